package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mala-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
)

type lineBody struct {
	Name     string          `json:"name" validate:"required"`
	Price    decimal.Decimal `json:"price" validate:"gt=0"`
	Quantity int             `json:"quantity" validate:"min=1"`
}

type orderBody struct {
	Email string     `json:"email" validate:"required,email"`
	Lines []lineBody `json:"lines" validate:"required,min=1,dive"`
}

func jsonRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	var dest orderBody
	err := DecodeJSONBody(jsonRequest(`{"email":"a@b.co","lines":[{"name":"Tulsi Mala","price":"450.50","quantity":1}]}`), &dest)
	require.NoError(t, err)
	require.True(t, dest.Lines[0].Price.Equal(decimal.RequireFromString("450.50")))
}

func TestDecodeJSONBodyReportsNestedFieldPaths(t *testing.T) {
	var dest orderBody
	err := DecodeJSONBody(jsonRequest(`{"email":"a@b.co","lines":[{"name":"Tulsi Mala","price":"0","quantity":0}]}`), &dest)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())

	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	require.Equal(t, "must be greater than 0", details["lines[0].price"])
	require.Equal(t, "must be at least 1", details["lines[0].quantity"])
}

func TestDecodeJSONBodyRejectsTrailingObjects(t *testing.T) {
	var dest orderBody
	err := DecodeJSONBody(jsonRequest(`{"email":"a@b.co","lines":[{"name":"x","price":"1","quantity":1}]}{"email":"c@d.co"}`), &dest)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyRejectsOversizedBody(t *testing.T) {
	var dest orderBody
	big := `{"email":"` + strings.Repeat("a", MaxBodyBytes) + `@b.co","lines":[]}`
	err := DecodeJSONBody(jsonRequest(big), &dest)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	_, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	v, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 25, v)
}

func TestParseQueryEnum(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?status=paid", nil)
	status, err := ParseQueryEnum(req, "status", enums.ParseOrderStatus)
	require.NoError(t, err)
	require.NotNil(t, status)
	require.Equal(t, enums.OrderStatusPaid, *status)

	req = httptest.NewRequest(http.MethodGet, "/?status=teleported", nil)
	_, err = ParseQueryEnum(req, "status", enums.ParseOrderStatus)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	status, err = ParseQueryEnum(req, "status", enums.ParseOrderStatus)
	require.NoError(t, err)
	require.Nil(t, status)
}

func TestSanitizeStringKeepsRunesIntact(t *testing.T) {
	require.Equal(t, "नमस्ते", SanitizeString("  नमस्ते दुनिया ", 6))
	require.Equal(t, "ab", SanitizeString("a\x00b", 0))
}
