/*
Package security provides the cryptographic primitives a wexec cluster
needs: a certificate authority for node/client mTLS, certificate file
helpers, and at-rest encryption for both the CA's own private key and
worker KV-store values.

# Cluster encryption key

Everything in this package that touches storage is rooted in a 32-byte
cluster encryption key, derived from the cluster ID:

	clusterKey = SHA-256(clusterID)

SetClusterEncryptionKey installs this key once, during cluster bootstrap.
The package-level Encrypt/Decrypt functions use it to protect the CA root
key at rest; SecretsManager wraps the same AES-256-GCM primitive for
callers that hold their own key instead of relying on the package global.

# Certificate authority

CertAuthority issues a self-signed root (RSA-4096, 10-year validity) via
Initialize, then signs node and client leaf certificates (RSA-2048,
90-day validity) against it with IssueNodeCertificate and
IssueClientCertificate. SaveToStore/LoadFromStore persist the root
through a storage.Store, encrypting the private key with the package's
cluster encryption key before it reaches disk.

# Certificate files

GetCertDir, SaveCertToFile, LoadCertFromFile and friends manage the
on-disk certificate directory used by nodes and the CLI between
restarts, including expiry checks for rotation (CertNeedsRotation).

# KV-at-rest encryption

EncryptedKVStore wraps a storage.KVStore and transparently encrypts
every value written through it with a SecretsManager, decrypting again
on read. Keys are left in the clear since they're needed for lookups;
this is the layer that keeps a worker's keyvalue::eventual data opaque
inside the shared BoltDB file.

	sm, _ := security.NewSecretsManager(clusterKey)
	kv := security.NewEncryptedKVStore(store, sm)
	kv.Set(accountId, workerId, "session-token", []byte(token))
*/
package security
