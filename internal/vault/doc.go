// Package vault is a client for the secret service endpoints ptah uses: PKI
// certificate issuance, transit signing and verification, and KV version 2 reads.
package vault
