package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/garyjia/evoucher/internal/domain/entity"
)

const (
	voucherPrefix = "evoucher:"
	historyPrefix = "evoucher_history:"
	ledgerPrefix  = "ledger:"
)

// VoucherKey is the store key of a document
func VoucherKey(id string) string {
	return voucherPrefix + id
}

// HistoryPrefix is the scan prefix of a document's transition log. The
// trailing separator keeps "ev-1" from matching "ev-10".
func HistoryPrefix(documentID string) string {
	return historyPrefix + documentID + ":"
}

// HistoryKey zero-pads seq so lexical key order equals append order
func HistoryKey(documentID string, seq int64) string {
	return fmt.Sprintf("%s%010d", HistoryPrefix(documentID), seq)
}

// LedgerKey is the store key of a ledger record
func LedgerKey(kind entity.LedgerKind, id string) string {
	return ledgerPrefix + string(kind) + ":" + id
}

// LedgerPrefix is the scan prefix of one ledger kind
func LedgerPrefix(kind entity.LedgerKind) string {
	return ledgerPrefix + string(kind) + ":"
}

func parseHistorySeq(key string) (int64, error) {
	i := strings.LastIndex(key, ":")
	if i < 0 {
		return 0, fmt.Errorf("malformed history key %q", key)
	}
	return strconv.ParseInt(key[i+1:], 10, 64)
}
