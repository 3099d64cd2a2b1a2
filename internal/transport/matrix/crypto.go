// ABOUTME: End-to-end encryption for the Matrix transport via mautrix cryptohelper
// ABOUTME: Keeps a per-user SQLite crypto store and resets it when the device id changes

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// cryptoStore wraps the crypto helper installed on the client.
type cryptoStore struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// setupCrypto enables E2EE on client. The recovery key, when given, is used to
// cross-sign this device; failing that only disables verification.
func setupCrypto(ctx context.Context, client *mautrix.Client, recoveryKey, dataDir string, logger *slog.Logger) (*cryptoStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating crypto data directory: %w", err)
	}

	userID := client.UserID.String()
	dbPath := filepath.Join(dataDir, fmt.Sprintf("errand-crypto-%s.db", slugify(userID)))
	logger.Info("setting up encryption", "db", dbPath)

	if stale, err := deviceChanged(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not read stored device id", "error", err)
	} else if stale {
		logger.Warn("device id changed, resetting crypto store")
		for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("removing stale crypto store: %w", err)
			}
		}
	}

	helper, err := cryptohelper.NewCryptoHelper(client, storeKey(userID), dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	client.Crypto = helper

	cs := &cryptoStore{helper: helper, logger: logger}
	if recoveryKey == "" {
		logger.Info("encryption enabled without cross-signing")
		return cs, nil
	}
	if err := helper.Machine().VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		logger.Warn("recovery key verification failed, continuing unverified", "error", err)
	} else {
		logger.Info("device verified with recovery key")
	}
	return cs, nil
}

func (c *cryptoStore) Close() error {
	if c == nil || c.helper == nil {
		return nil
	}
	return c.helper.Close()
}

// slugify turns "@errand:matrix.org" into "errand_matrix.org".
func slugify(userID string) string {
	if len(userID) > 0 && userID[0] == '@' {
		userID = userID[1:]
	}
	out := make([]byte, 0, len(userID))
	for i := 0; i < len(userID); i++ {
		c := userID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			out = append(out, c)
		case c == ':':
			out = append(out, '_')
		}
	}
	return string(out)
}

// storeKey derives the pickle key for the crypto store from the user id.
func storeKey(userID string) []byte {
	h := sha256.Sum256([]byte("errand-bot-crypto:" + userID))
	return h[:]
}

// deviceChanged reports whether an existing crypto store belongs to another device.
func deviceChanged(dbPath, deviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != deviceID, nil
}
