package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPageRequest_Validate(t *testing.T) {
	tests := []struct {
		req   PageRequest
		valid bool
	}{
		{PageRequest{Page: 1, Limit: 10}, true},
		{PageRequest{Page: 3, Limit: MaxPageLimit}, true},
		{PageRequest{Page: 0, Limit: 10}, false},
		{PageRequest{Page: 1, Limit: 0}, false},
		{PageRequest{Page: 1, Limit: MaxPageLimit + 1}, false},
		{PageRequest{Page: -2, Limit: -1}, false},
	}

	for _, tt := range tests {
		err := tt.req.Validate()
		if tt.valid {
			assert.NoError(t, err, "%+v", tt.req)
		} else {
			assert.ErrorIs(t, err, ErrValidation, "%+v", tt.req)
		}
	}
}

func TestNewPage(t *testing.T) {
	p := NewPage(PageRequest{Page: 2, Limit: 5}, []int{6, 7, 8, 9, 10}, 11)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 2, p.CurrentPage)
	assert.Equal(t, 11, p.TotalItems)
	assert.Equal(t, 5, PageRequest{Page: 2, Limit: 5}.Offset())

	empty := NewPage[int](PageRequest{Page: 1, Limit: 5}, nil, 0)
	assert.Equal(t, 0, empty.TotalPages)
	assert.NotNil(t, empty.Items)

	huge := PageRequest{Page: 1<<62 + 1, Limit: 2}
	assert.NoError(t, huge.Validate())
	assert.Equal(t, math.MaxInt, huge.Offset())
	assert.Equal(t, math.MaxInt-1, PageRequest{Page: math.MaxInt, Limit: 1}.Offset())

	exact := NewPage(PageRequest{Page: 1, Limit: 5}, []int{1, 2, 3, 4, 5}, 10)
	assert.Equal(t, 2, exact.TotalPages)
}

func TestMovementForDelta(t *testing.T) {
	at := time.Now()

	in := MovementForDelta(1, 7, "u1", at)
	assert.Equal(t, DirectionInbound, in.Direction)
	assert.Equal(t, 7, in.Magnitude)
	assert.Equal(t, 7, in.Signed())

	out := MovementForDelta(1, -4, "u1", at)
	assert.Equal(t, DirectionOutbound, out.Direction)
	assert.Equal(t, 4, out.Magnitude)
	assert.Equal(t, -4, out.Signed())
}

func TestValidateAdjustment(t *testing.T) {
	assert.NoError(t, ValidateAdjustment(DirectionInbound, 1))
	assert.NoError(t, ValidateAdjustment(DirectionOutbound, 100))
	assert.ErrorIs(t, ValidateAdjustment("sideways", 1), ErrValidation)
	assert.ErrorIs(t, ValidateAdjustment(DirectionInbound, 0), ErrValidation)
	assert.ErrorIs(t, ValidateAdjustment(DirectionOutbound, -3), ErrValidation)
	assert.NoError(t, ValidateAdjustment(DirectionInbound, MaxQuantity))
	assert.ErrorIs(t, ValidateAdjustment(DirectionInbound, MaxQuantity+1), ErrValidation)
}

func TestProductValidation(t *testing.T) {
	assert.NoError(t, NewProduct{Name: "Widget", Quantity: 0}.Validate())
	assert.ErrorIs(t, NewProduct{Name: "  ", Quantity: 1}.Validate(), ErrValidation)
	assert.ErrorIs(t, ProductUpdate{Name: "Widget", Quantity: -1}.Validate(), ErrValidation)
	assert.NoError(t, NewProduct{Name: "Widget", Quantity: MaxQuantity}.Validate())
	assert.ErrorIs(t, ProductUpdate{Name: "Widget", Quantity: MaxQuantity + 1}.Validate(), ErrValidation)
}

func TestAuditReport(t *testing.T) {
	balanced := AuditReport{ProductID: 1, InitialQuantity: 10, LedgerBalance: -3, Quantity: 7}
	assert.Equal(t, 7, balanced.Expected())
	assert.Equal(t, 0, balanced.Drift())
	assert.True(t, balanced.Balanced())

	drifted := AuditReport{ProductID: 1, InitialQuantity: 10, LedgerBalance: -3, Quantity: 9}
	assert.Equal(t, 2, drifted.Drift())
	assert.False(t, drifted.Balanced())
}

func TestNewIdentity(t *testing.T) {
	claims := SessionClaims{
		SessionID:    "s1",
		SubjectID:    "u1",
		SubjectName:  "Ann",
		SubjectEmail: "ann@example.com",
		ExpiresAt:    time.Unix(1700000000, 0),
		Source:       "sql",
	}

	id := NewIdentity(claims, RoleAdmin)
	assert.Equal(t, "u1", id.ID)
	assert.Equal(t, RoleAdmin, id.Role)
	assert.True(t, id.IsAdmin())
	assert.Equal(t, SessionMetadata{ID: "s1", ExpiresAt: claims.ExpiresAt, Source: "sql"}, id.Session)

	assert.Equal(t, RoleUser, NewIdentity(claims, "").Role)
	assert.Equal(t, RoleUser, NewIdentity(claims, "root").Role)
}

func TestUserValidation(t *testing.T) {
	assert.Equal(t, "ann@example.com", NormalizeEmail("  Ann@Example.COM "))

	assert.NoError(t, UserUpdate{Name: "Ann", Email: "ann@example.com"}.Validate())
	assert.ErrorIs(t, UserUpdate{Name: "", Email: "ann@example.com"}.Validate(), ErrValidation)
	assert.ErrorIs(t, UserUpdate{Name: "Ann", Email: "not-an-email"}.Validate(), ErrValidation)

	assert.NoError(t, Registration{Name: "Ann", Email: "ann@example.com", Password: "secret"}.Validate())
	assert.ErrorIs(t, Registration{Name: "Ann", Email: "ann@example.com", Password: "short"}.Validate(), ErrValidation)
}
