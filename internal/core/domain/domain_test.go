package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNormalizeIdentity(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"lowercase", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"checksummed", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"padded", "  0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed ", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"short", "0x1234", "", false},
		{"not hex", "alice", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeIdentity(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeHandle(t *testing.T) {
	h, ok := NormalizeHandle("  alice ")
	assert.True(t, ok)
	assert.Equal(t, "alice", h)

	_, ok = NormalizeHandle("   ")
	assert.False(t, ok)

	long := make([]rune, MaxHandleLength+1)
	for i := range long {
		long[i] = 'é'
	}
	_, ok = NormalizeHandle(string(long))
	assert.False(t, ok)
	_, ok = NormalizeHandle(string(long[:MaxHandleLength]))
	assert.True(t, ok)
}

func TestAmountValidation(t *testing.T) {
	assert.True(t, IsValidAmount(d("1")))
	assert.False(t, IsValidAmount(d("0")))
	assert.False(t, IsValidAmount(d("-5")))
	assert.False(t, IsValidAmount(d("1.5")))

	assert.True(t, IsValidPrice(d("0")))
	assert.True(t, IsValidPrice(d("50")))
	assert.False(t, IsValidPrice(d("-1")))
	assert.False(t, IsValidPrice(d("0.1")))

	widest := strings.Repeat("9", MaxDigits)
	assert.True(t, IsValidAmount(d(widest)))
	assert.False(t, IsValidAmount(d(widest+"0")))
	assert.False(t, IsValidAmount(decimal.New(1, 100)))
	assert.False(t, IsValidAmount(decimal.New(1, 50000000)))
	assert.False(t, IsValidPrice(decimal.New(5, MaxDigits)))
	assert.True(t, IsValidPrice(decimal.New(5, MaxDigits-1)))
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "1500", AmountString(decimal.New(15, 2)))
	assert.Equal(t, "0", AmountString(decimal.Zero))
	assert.Equal(t, "out of range", AmountString(decimal.New(1, 50000000)))
}

func TestParseBaseUnits(t *testing.T) {
	v, err := ParseBaseUnits("500")
	require.NoError(t, err)
	assert.True(t, v.Equal(d("500")))

	huge := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	v, err = ParseBaseUnits(huge)
	require.NoError(t, err)
	assert.Equal(t, huge, v.String())

	_, err = ParseBaseUnits("1.5")
	assert.Error(t, err)
	_, err = ParseBaseUnits("abc")
	assert.Error(t, err)

	for _, in := range []string{"", "1e5", "1E5", "1.0", "+5", " 5", "0x10", "1e50000000", strings.Repeat("1", MaxDigits+1)} {
		_, err = ParseBaseUnits(in)
		assert.Error(t, err, "input %q", in)
	}

	v, err = ParseBaseUnits("-7")
	require.NoError(t, err)
	assert.Equal(t, "-7", v.String())
}

func TestParseAndFormatUnits(t *testing.T) {
	v, err := ParseUnits("1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())
	assert.Equal(t, "1.5", FormatUnits(v))

	v, err = ParseUnits("0.000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "1", v.String())

	_, err = ParseUnits("0.0000000000000000001")
	assert.Error(t, err)

	for _, in := range []string{"1e3", "1.", ".5", strings.Repeat("9", 61)} {
		_, err = ParseUnits(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestSupply_Circulating(t *testing.T) {
	s := &Supply{Asset: AssetCarbon, Minted: d("1000"), Burned: d("250")}
	assert.True(t, s.Circulating().Equal(d("750")))
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in   string
		want Decision
		ok   bool
	}{
		{"approve", DecisionApprove, true},
		{"APPROVED", DecisionApprove, true},
		{"reject", DecisionReject, true},
		{" Rejected ", DecisionReject, true},
		{"maybe", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDecision(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, RequestStatusApproved, DecisionApprove.Status())
	assert.Equal(t, RequestStatusRejected, DecisionReject.Status())
}

func TestReviewRequest_Reviewed(t *testing.T) {
	tests := []struct {
		status RequestStatus
		want   bool
	}{
		{RequestStatusPending, false},
		{RequestStatusApproved, true},
		{RequestStatusRejected, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			r := &ReviewRequest{Status: tt.status}
			assert.Equal(t, tt.want, r.Reviewed())
			assert.Equal(t, !tt.want, r.IsPending())
		})
	}

	s, ok := ParseRequestStatus("pending")
	assert.True(t, ok)
	assert.Equal(t, RequestStatusPending, s)
}

func TestCampaign_Acceptable(t *testing.T) {
	c := &Campaign{TargetAmount: d("1000"), RaisedAmount: d("900"), IsActive: true}

	accepted, ok := c.Acceptable(d("50"), OverfundingCap)
	assert.True(t, ok)
	assert.True(t, accepted.Equal(d("50")))

	accepted, ok = c.Acceptable(d("300"), OverfundingCap)
	assert.True(t, ok)
	assert.True(t, accepted.Equal(d("100")))

	_, ok = c.Acceptable(d("300"), OverfundingReject)
	assert.False(t, ok)

	accepted, ok = c.Acceptable(d("100"), OverfundingReject)
	assert.True(t, ok)
	assert.True(t, accepted.Equal(d("100")))
}

func TestCampaign_RaiseClosesOnce(t *testing.T) {
	c := &Campaign{TargetAmount: d("1000"), RaisedAmount: decimal.Zero, IsActive: true}
	now := time.Now()

	assert.False(t, c.Raise(d("400"), now))
	assert.True(t, c.IsActive)
	assert.True(t, c.Remaining().Equal(d("600")))

	assert.True(t, c.Raise(d("600"), now))
	assert.False(t, c.IsActive)
	require.NotNil(t, c.ClosedAt)
	assert.True(t, c.Remaining().IsZero())

	assert.False(t, c.Raise(decimal.Zero, now))
	assert.False(t, c.IsActive)
}

func TestEventType_RoutingKey(t *testing.T) {
	assert.Equal(t, "ledger.donation", EventDonation.RoutingKey())
	assert.Equal(t, "ledger.identity_registered", EventIdentityRegistered.RoutingKey())
}

func newEvent() *LedgerEvent {
	id := int64(7)
	return &LedgerEvent{
		Type:      EventDonation,
		Actor:     "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		Asset:     AssetCarbon,
		From:      "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		To:        "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		Amount:    d("1000"),
		SubjectID: &id,
		Reference: "don-1",
		Payload:   json.RawMessage(`{"requested":"1000"}`),
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC),
	}
}

func TestLedgerEvent_SealChains(t *testing.T) {
	first := newEvent()
	first.Seal(ChainHead{})
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, GenesisHash, first.PrevHash)
	assert.Len(t, first.Hash, 64)
	assert.Equal(t, first.Hash, first.ComputeHash())

	second := newEvent()
	second.Seal(ChainHead{Seq: first.Seq, Hash: first.Hash})
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestLedgerEvent_HashDetectsTampering(t *testing.T) {
	e := newEvent()
	e.Seal(ChainHead{Seq: 3, Hash: GenesisHash})
	sealed := e.Hash

	e.Amount = d("1001")
	assert.NotEqual(t, sealed, e.ComputeHash())

	e.Amount = d("1000")
	assert.Equal(t, sealed, e.ComputeHash())

	// Same instant in another zone hashes identically.
	e.CreatedAt = e.CreatedAt.In(time.FixedZone("X", 3600))
	assert.Equal(t, sealed, e.ComputeHash())

	// Whitespace in the payload does not change the canonical form.
	e.Payload = json.RawMessage(`{ "requested": "1000" }`)
	assert.Equal(t, sealed, e.ComputeHash())
}

func TestLedgerEvent_SameOperation(t *testing.T) {
	e := newEvent()
	other := int64(8)

	assert.True(t, e.SameOperation(EventDonation, "", e.SubjectID))
	assert.False(t, e.SameOperation(EventTransfer, "", nil))
	assert.False(t, e.SameOperation(EventDonation, "", &other))
	assert.False(t, e.SameOperation(EventDonation, "0x0000000000000000000000000000000000000001", nil))
}

func TestLedgerEvent_MovesValue(t *testing.T) {
	e := newEvent()
	assert.True(t, e.MovesValue())

	e.Asset = ""
	assert.False(t, e.MovesValue())
}

func TestVerifyReport_Problems(t *testing.T) {
	r := &VerifyReport{ChainValid: true, Balanced: true}
	assert.True(t, r.OK())

	r.BalanceProblem("supply %s off by %d", AssetCarbon, 3)
	assert.False(t, r.Balanced)
	assert.True(t, r.ChainValid)
	r.ChainProblem("event %d hash mismatch", 4)
	assert.False(t, r.OK())
	assert.Equal(t, []string{"supply CARB off by 3", "event 4 hash mismatch"}, r.Problems)
}
