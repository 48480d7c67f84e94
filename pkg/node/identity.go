package node

import (
	"crypto/rand"
	"os"
	"path/filepath"

	"github.com/DeBrosOfficial/rnshub/pkg/logging"
	"github.com/libp2p/go-libp2p/core/crypto"
	"go.uber.org/zap"
)

func generateIdentity() (crypto.PrivKey, error) {
	priv, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 2048, rand.Reader)
	return priv, err
}

func saveIdentity(priv crypto.PrivKey, path string) error {
	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func loadIdentity(path string) (crypto.PrivKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return crypto.UnmarshalPrivateKey(data)
}

// loadOrCreateIdentity keeps the peer ID stable across restarts.
func (n *Node) loadOrCreateIdentity() (crypto.PrivKey, error) {
	path := n.identityPath()

	if _, err := os.Stat(path); err == nil {
		priv, err := loadIdentity(path)
		if err == nil {
			return priv, nil
		}
		n.logger.ComponentWarn(logging.ComponentLibP2P, "Identity file unreadable, generating a new one",
			zap.String("path", path), zap.Error(err))
	}

	priv, err := generateIdentity()
	if err != nil {
		return nil, err
	}
	if err := saveIdentity(priv, path); err != nil {
		return nil, err
	}
	return priv, nil
}
