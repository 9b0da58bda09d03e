package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMandatoryKeys(t *testing.T) {
	_, err := Init("", "/out", false, "", "")
	assert.Error(t, err, "missing config dir should be fatal")
	_, err = Init("/conf", "", false, "", "")
	assert.Error(t, err, "missing output dir should be fatal")

	r, err := Init("/conf", "/out", true, "", "")
	require.NoError(t, err)
	v, ok := r.Get(KeyConfigDir)
	assert.True(t, ok)
	assert.Equal(t, "/conf", v)
	assert.True(t, r.Execute())
}

func TestRefDatetimeSetsDateAndTimezone(t *testing.T) {
	r, err := Init("/conf", "/out", false, "", "2024-03-09T15:04:05+02:00")
	require.NoError(t, err)
	date, _ := r.Get(KeyRefDate)
	assert.Equal(t, "2024-03-09", date, "REF_DATETIME should set REF_DATE")
	tz, _ := r.Get(KeyRefTimezone)
	assert.Equal(t, "+02:00", tz, "REF_DATETIME should set REF_TIMEZONE")
}

func TestRefDateOnly(t *testing.T) {
	r, err := Init("/conf", "/out", false, "2024-03-09", "")
	require.NoError(t, err)
	assert.False(t, r.Has(KeyRefDatetime), "REF_DATE alone should not set REF_DATETIME")
	assert.Equal(t, "2024-03-09", r.RefDate().Format("2006-01-02"))
}

func TestInvalidDates(t *testing.T) {
	_, err := Init("/c", "/o", false, "March 9", "")
	assert.Error(t, err, "invalid ref date should fail")
	_, err = Init("/c", "/o", false, "", "yesterday")
	assert.Error(t, err, "invalid ref datetime should fail")
}

func TestCloseClearsTransientKeys(t *testing.T) {
	r, err := Init("/conf", "/out", false, "", "")
	require.NoError(t, err)
	r.Set("MY_TOKEN", "s3cret")
	r.Close()

	next := New()
	for _, k := range []string{"MY_TOKEN", KeyConfigDir, KeyOutputDir} {
		assert.False(t, next.Has(k), "key %q should not leak into a new registry", k)
		assert.False(t, r.Has(k), "key %q should not survive Close", k)
	}
}

func TestPop(t *testing.T) {
	r := New()
	r.Set("A", "1")
	assert.True(t, r.Pop("A"))
	assert.False(t, r.Pop("A"))
	assert.ElementsMatch(t, []string{}, r.Keys())
}
