package chain

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrTooSoon matches a RevertError raised because the record interval has not elapsed.
	ErrTooSoon = errors.New("too soon")
	// ErrInsufficientFunds matches a RevertError raised because the keeper cannot pay for gas.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// RevertKind classifies a rejected keeper transaction.
type RevertKind int

const (
	RevertOther RevertKind = iota
	RevertTooSoon
	RevertInsufficientFunds
)

func (k RevertKind) String() string {
	switch k {
	case RevertTooSoon:
		return "too_soon"
	case RevertInsufficientFunds:
		return "insufficient_funds"
	default:
		return "other"
	}
}

// RevertError is returned when the node or the contract rejects the transaction.
type RevertError struct {
	Kind   RevertKind
	Reason string
	Err    error
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("transaction rejected (%s): %s", e.Kind, e.Reason)
}

func (e *RevertError) Unwrap() error { return e.Err }

// Is lets callers match with errors.Is(err, ErrTooSoon) and friends.
func (e *RevertError) Is(target error) bool {
	switch target {
	case ErrTooSoon:
		return e.Kind == RevertTooSoon
	case ErrInsufficientFunds:
		return e.Kind == RevertInsufficientFunds
	}
	return false
}

// RPCError wraps transport, decoding and read-call failures.
type RPCError struct {
	Op  string
	Err error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s: %v", e.Op, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// TimeoutError reports a transaction whose receipt was not observed in time.
type TimeoutError struct {
	TxHash common.Hash
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed after %s", e.TxHash.Hex(), e.Waited.Round(time.Second))
}

var tooSoonSelector = bondSeriesABI.Errors["TooSoon"].ID.Bytes()[:4]

// classifyTxError turns a failure from gas estimation or submission into a
// RevertError when the rejection can be recognised, RPCError otherwise.
func classifyTxError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "insufficient funds") {
		return &RevertError{Kind: RevertInsufficientFunds, Reason: msg, Err: err}
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if kind, reason, ok := decodeRevertData(dataErr.ErrorData()); ok {
			return &RevertError{Kind: kind, Reason: reason, Err: err}
		}
	}

	switch {
	case strings.Contains(lower, "toosoon"), strings.Contains(lower, "too soon"):
		return &RevertError{Kind: RevertTooSoon, Reason: msg, Err: err}
	case strings.Contains(lower, "execution reverted"):
		return &RevertError{Kind: RevertOther, Reason: msg, Err: err}
	}
	return &RPCError{Op: op, Err: err}
}

func decodeRevertData(data any) (RevertKind, string, bool) {
	encoded, ok := data.(string)
	if !ok {
		return RevertOther, "", false
	}
	raw, err := hexutil.Decode(encoded)
	if err != nil || len(raw) < 4 {
		return RevertOther, "", false
	}
	if bytes.Equal(raw[:4], tooSoonSelector) {
		return RevertTooSoon, "TooSoon()", true
	}
	if reason, err := abi.UnpackRevert(raw); err == nil {
		return classifyReason(reason), reason, true
	}
	if custom, err := bondSeriesABI.ErrorByID([4]byte(raw[:4])); err == nil {
		return RevertOther, custom.Sig, true
	}
	return RevertOther, encoded, true
}

func classifyReason(reason string) RevertKind {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "too soon"), strings.Contains(lower, "toosoon"):
		return RevertTooSoon
	case strings.Contains(lower, "insufficient funds"):
		return RevertInsufficientFunds
	default:
		return RevertOther
	}
}
