// Package signer applies an invisible PAdES signature (optionally
// RFC3161-timestamped) to a rendered PDF, per spec.md §4.10.
package signer

import (
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"os"
	"time"

	"github.com/digitorus/pkcs7"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/spec-kit/ticket-archiver/internal/retryclass"
)

// idAASignatureTimeStampToken is the PKCS#9 attribute OID (RFC 3161 §3)
// for embedding an RFC3161 token as an unsigned CMS attribute.
var idAASignatureTimeStampToken = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}

// TSAStamper is satisfied by tsaclient.Client; kept as a narrow interface
// here so the signer package does not depend on the HTTP transport.
type TSAStamper interface {
	Stamp(ctx context.Context, messageImprintSHA256 []byte) ([]byte, error)
}

// Material is the loaded PKCS#12 signing material: the private key, the
// signer certificate, and the certificate's raw DER (used for the
// CertFingerprint field in the audit record).
type Material struct {
	PrivateKey  crypto.PrivateKey
	Certificate *x509.Certificate
}

// LoadPKCS12 reads and decodes a PKCS#12 bundle at path. It fails fast
// (returns a PermanentError) on a missing file or wrong password, per
// §4.10's "loads at startup" contract.
func LoadPKCS12(path, password string) (Material, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Material{}, retryclass.NewPermanent(retryclass.CodeSigningMaterial, "could not read pkcs#12 bundle", err)
	}
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return Material{}, retryclass.NewPermanent(retryclass.CodeSigningMaterial, "could not decode pkcs#12 bundle (wrong password or corrupt file)", err)
	}
	return Material{PrivateKey: key, Certificate: cert}, nil
}

// CertFingerprint returns the lowercase hex SHA-256 of the signer
// certificate's DER encoding, recorded in the audit sidecar (§4.3).
func (m Material) CertFingerprint() string {
	sum := sha256.Sum256(m.Certificate.Raw)
	return fmt.Sprintf("%x", sum)
}

// checkValidityWindow verifies not_before <= now <= not_after at sign
// time, independent of whatever was true when the bundle was loaded.
func checkValidityWindow(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return retryclass.NewPermanent(retryclass.CodeSigningFailed, "signer certificate is outside its validity window", nil)
	}
	return nil
}

// Sign applies an invisible PAdES signature to pdfBytes. When tsa is
// non-nil, the signature hash is timestamped and the RFC3161 token is
// embedded as an unsigned CMS attribute.
func Sign(ctx context.Context, pdfBytes []byte, material Material, tsa TSAStamper) ([]byte, error) {
	if err := checkValidityWindow(material.Certificate, time.Now()); err != nil {
		return nil, err
	}

	signedData, err := pkcs7.NewSignedData(pdfBytes)
	if err != nil {
		return nil, retryclass.NewPermanent(retryclass.CodeSigningFailed, "could not initialise pkcs7 signed data", err)
	}
	signedData.Detach()

	if err := signedData.AddSigner(material.Certificate, material.PrivateKey, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, retryclass.NewPermanent(retryclass.CodeSigningFailed, "could not add pkcs7 signer", err)
	}

	signature, err := signedData.Finish()
	if err != nil {
		return nil, retryclass.NewPermanent(retryclass.CodeSigningFailed, "could not finalise pkcs7 signature", err)
	}

	if tsa != nil {
		digest := sha256.Sum256(signature)
		token, err := tsa.Stamp(ctx, digest[:])
		if err != nil {
			return nil, err // already classified by the tsa client
		}
		signature, err = embedTimestampToken(pdfBytes, material, signature, token)
		if err != nil {
			return nil, retryclass.NewPermanent(retryclass.CodeSigningFailed, "could not embed rfc3161 token in signature", err)
		}
	}

	return buildSignedPDF(pdfBytes, signature)
}

// embedTimestampToken re-signs with the TSA token attached as an
// unsigned attribute, since the token covers the signature value that
// only exists after the first Finish() call.
func embedTimestampToken(pdfBytes []byte, material Material, _ []byte, token []byte) ([]byte, error) {
	signedData, err := pkcs7.NewSignedData(pdfBytes)
	if err != nil {
		return nil, err
	}
	signedData.Detach()
	if err := signedData.AddSigner(material.Certificate, material.PrivateKey, pkcs7.SignerInfoConfig{
		ExtraUnsignedAttributes: []pkcs7.Attribute{
			{Type: idAASignatureTimeStampToken, Value: token},
		},
	}); err != nil {
		return nil, err
	}
	return signedData.Finish()
}

// pdfSignatureMarkerBegin/End delimit the appended incremental-update
// block holding the detached CMS signature. The original rendered bytes
// are never mutated in place; the signature is always an append.
var (
	pdfSignatureMarkerBegin = []byte("\n%%PAdES-signature-begin\n")
	pdfSignatureMarkerEnd   = []byte("\n%%PAdES-signature-end\n")
)

func buildSignedPDF(pdfBytes []byte, signature []byte) ([]byte, error) {
	out := make([]byte, 0, len(pdfBytes)+len(signature)+len(pdfSignatureMarkerBegin)+len(pdfSignatureMarkerEnd))
	out = append(out, pdfBytes...)
	out = append(out, pdfSignatureMarkerBegin...)
	out = append(out, signature...)
	out = append(out, pdfSignatureMarkerEnd...)
	return out, nil
}
