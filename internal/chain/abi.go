package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Event names emitted by the BondSeries contract.
const (
	EventSnapshotRecorded       = "SnapshotRecorded"
	EventCouponDistributed      = "CouponDistributed"
	EventEmergencyRedeemEnabled = "EmergencyRedeemEnabled"
	EventDeposited              = "Deposited"
	EventCouponClaimed          = "CouponClaimed"
	EventRedeemed               = "Redeemed"
)

const bondSeriesABIJSON = `[
{"type":"function","name":"recordSnapshot","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"nextRecordTime","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"recordCount","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"snapshots","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"recordId","type":"uint256"},{"name":"timestamp","type":"uint256"},{"name":"totalSupply","type":"uint256"},{"name":"treasuryBalance","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"lastDistributedRecord","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"getSeriesInfo","inputs":[],"outputs":[{"name":"maturityDate","type":"uint256"},{"name":"totalDeposited","type":"uint256"},{"name":"totalSupply","type":"uint256"},{"name":"recordCount","type":"uint256"},{"name":"cumulativeCouponIndex","type":"uint256"},{"name":"emergencyMode","type":"bool"}],"stateMutability":"view"},
{"type":"event","name":"SnapshotRecorded","anonymous":false,"inputs":[{"name":"recordId","type":"uint256","indexed":true},{"name":"totalSupply","type":"uint256","indexed":false},{"name":"treasuryBalance","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
{"type":"event","name":"CouponDistributed","anonymous":false,"inputs":[{"name":"recordId","type":"uint256","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"newIndex","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
{"type":"event","name":"EmergencyRedeemEnabled","anonymous":false,"inputs":[{"name":"timestamp","type":"uint256","indexed":false}]},
{"type":"event","name":"Deposited","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true},{"name":"usdcAmount","type":"uint256","indexed":false},{"name":"bondAmount","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
{"type":"event","name":"CouponClaimed","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
{"type":"event","name":"Redeemed","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true},{"name":"bondAmount","type":"uint256","indexed":false},{"name":"usdcAmount","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
{"type":"error","name":"TooSoon","inputs":[]}
]`

var bondSeriesABI = mustParseABI(bondSeriesABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse BondSeries ABI: " + err.Error())
	}
	return parsed
}
