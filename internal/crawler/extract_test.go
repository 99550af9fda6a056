package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldExtractorFullPage(t *testing.T) {
	t.Parallel()

	record, err := NewFieldExtractor().Extract(readFixture(t, "clinic_brisbane.html"), "https://clinics.test/our-clinics/brisbane/", "Brisbane")
	require.NoError(t, err)
	require.Equal(t, ClinicRecord{
		Region:   "Brisbane",
		Name:     "My FootDr Brisbane",
		Address:  "Level 1, 123 Queen Street Brisbane QLD 4000",
		Phone:    "(07) 1234 5678",
		Email:    "info@myfootdr.com.au",
		Services: []string{"General Podiatry", "Orthotics", "Sports Podiatry"},
		URL:      "https://clinics.test/our-clinics/brisbane/",
	}, record)
}

func TestFieldExtractorFallbackStrategies(t *testing.T) {
	t.Parallel()

	record, err := NewFieldExtractor().Extract(readFixture(t, "clinic_southport.html"), "https://clinics.test/our-clinics/southport/", "Gold Coast")
	require.NoError(t, err)
	require.Equal(t, "Southport Podiatry", record.Name)
	require.Equal(t, "Shop 4, 10 Scarborough Street, Southport QLD 4215", record.Address)
	require.Equal(t, "0412 345 678", record.Phone)
	require.Equal(t, "goldcoast@myfootdr.com.au", record.Email)
	require.Equal(t, []string{"Diabetic Foot Care", "Nail Surgery"}, record.Services)
}

func TestFieldExtractorNameOnly(t *testing.T) {
	t.Parallel()

	record, err := NewFieldExtractor().Extract(readFixture(t, "clinic_minimal.html"), "https://clinics.test/our-clinics/minimal/", "Brisbane")
	require.NoError(t, err)
	require.Equal(t, "Minimal Clinic", record.Name)
	require.Empty(t, record.Address)
	require.Empty(t, record.Phone)
	require.Empty(t, record.Email)
	require.NotNil(t, record.Services)
	require.Empty(t, record.Services)
}

func TestFieldExtractorMissingName(t *testing.T) {
	t.Parallel()

	_, err := NewFieldExtractor().Extract(readFixture(t, "clinic_nameless.html"), "https://clinics.test/our-clinics/nameless/", "Brisbane")
	require.ErrorIs(t, err, ErrParseFailure)
	require.ErrorIs(t, err, ErrMissingName)
}

func TestFieldExtractorTelHrefFallback(t *testing.T) {
	t.Parallel()

	page := `<html><body>
		<h1 class="entry-title">Ascot</h1>
		<a href="tel:+61738765432">Call now</a>
		<p>Bookings: <a href="mailto:ascot@myfootdr.com.au">email</a></p>
	</body></html>`

	record, err := NewFieldExtractor().Extract([]byte(page), "https://clinics.test/our-clinics/ascot/", "Brisbane")
	require.NoError(t, err)
	require.Equal(t, "(07) 3876 5432", record.Phone)
	require.Equal(t, "ascot@myfootdr.com.au", record.Email)
}

func TestFieldExtractorIgnoresArchiveChrome(t *testing.T) {
	t.Parallel()

	page := `<html><body>
		<div id="wm-ipp-base"><h1>Wayback Machine</h1><p>Contact 02 9999 0000 archive@archive.org</p></div>
		<h1>Clinic Without Contacts</h1>
		<script>var phone = "07 1111 2222";</script>
	</body></html>`

	record, err := NewFieldExtractor().Extract([]byte(page), "https://clinics.test/our-clinics/x/", "Brisbane")
	require.NoError(t, err)
	require.Equal(t, "Clinic Without Contacts", record.Name)
	require.Empty(t, record.Phone)
	require.Empty(t, record.Email)
}

func TestFieldExtractorNormalizersAreStable(t *testing.T) {
	t.Parallel()

	record, err := NewFieldExtractor().Extract(readFixture(t, "clinic_brisbane.html"), "https://clinics.test/our-clinics/brisbane/", " Brisbane\n")
	require.NoError(t, err)
	require.Equal(t, "Brisbane", record.Region)
	require.Equal(t, record.Phone, NormalizePhone(record.Phone))
	require.Equal(t, record.Email, NormalizeEmail(record.Email))
	require.Equal(t, record.Name, CollapseWhitespace(record.Name))
}

func TestFieldExtractorDecodesEscapedMailto(t *testing.T) {
	t.Parallel()

	page := `<html><body>
		<h1>Toowong</h1>
		<a href="mailto:Toowong%40myfootdr.com.au?subject=Booking%20request">Email us</a>
	</body></html>`

	record, err := NewFieldExtractor().Extract([]byte(page), "https://clinics.test/our-clinics/toowong/", "Brisbane")
	require.NoError(t, err)
	require.Equal(t, "toowong@myfootdr.com.au", record.Email)
	require.Equal(t, record.Email, NormalizeEmail(NormalizeEmail(record.Email)))
}
