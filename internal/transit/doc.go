// Package transit builds RS256 JSON Web Tokens whose signature is produced by
// a remote signing oracle that never discloses its private key.
//
// The oracle receives the standard base64 of "header.payload" and answers
// with a "vault:vN:" prefixed standard base64 signature. The manager converts
// between that form and the unpadded base64url signature segment of the token.
package transit
