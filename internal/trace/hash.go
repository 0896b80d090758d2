package trace

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// GenesisHash seeds the chain; it is also the hash of an empty trace.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// chainStep folds one line into the chain.
func chainStep(prev, line string) string {
	sum := sha256.Sum256([]byte(prev + ":" + line))
	return hex.EncodeToString(sum[:])
}

// ChainFile computes the hash chain over every line of the file at path.
// The trailing newline does not contribute a line of its own.
func ChainFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	h := GenesisHash
	r := bufio.NewReaderSize(f, 1<<20)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			h = chainStep(h, strings.TrimSuffix(line, "\n"))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read trace file: %w", err)
		}
	}
	return h, nil
}

// VerifyFile recomputes the chain for path and compares it to the recorded
// hash. A mismatch indicates tamper or truncation after the spawn finished.
func VerifyFile(path, recorded string) error {
	got, err := ChainFile(path)
	if err != nil {
		return err
	}
	if got != recorded {
		return fmt.Errorf("trace hash mismatch: recorded %s, computed %s", recorded, got)
	}
	return nil
}
