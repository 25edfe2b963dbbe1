package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/denisbrodbeck/machineid"
)

const appID = "executor-core"

// InstanceID returns a stable, machine-bound identifier for this executor.
// It is hashed with the app id so it cannot be correlated across products.
// When the machine id is unavailable (some containers), a random id is
// generated for the lifetime of the process.
func InstanceID() string {
	id, err := machineid.ProtectedID(appID)
	if err == nil {
		return id
	}
	log.Printf("identity: machine id unavailable (%v), using ephemeral id", err)
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("ephemeral-%p", &buf)
	}
	return "ephemeral-" + hex.EncodeToString(buf)
}
