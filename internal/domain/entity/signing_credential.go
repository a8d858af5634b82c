package entity

import "time"

// SigningCredential certificado digital (.p12/.pfx) de un tenant.
// La contraseña se guarda junto al material porque el SII exige firmar en servidor.
type SigningCredential struct {
	ID                 string
	TenantID           string
	CredentialBytes    []byte
	CredentialPassword string
	ExpiryDate         time.Time
	Active             bool
	CreatedAt          time.Time
}
