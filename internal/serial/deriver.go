// Package serial derives aggregation-record serial numbers. The deriver is
// keyed by code, batch and record ordinal so a batch regenerates to the same
// serials on redelivery.
package serial

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

type HashDeriver struct{}

func NewHashDeriver() *HashDeriver {
	return &HashDeriver{}
}

func (d *HashDeriver) Derive(codeValue, batchNo string, recordNo int) (string, error) {
	if codeValue == "" || batchNo == "" {
		return "", fmt.Errorf("code and batch number are required")
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", codeValue, batchNo, recordNo)))
	return strings.ToUpper(hex.EncodeToString(sum[:6])), nil
}
