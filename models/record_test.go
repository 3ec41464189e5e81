package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

func TestShareMapLastWriteWinsKeepsPosition(t *testing.T) {
	var m ShareMap
	m = m.Set("US", 10)
	m = m.Set("GB", 5)
	m = m.Set("US", 12.5)

	require.Len(t, m, 2)
	assert.Equal(t, "US", m[0].Label)
	assert.Equal(t, 12.5, m[0].Percent)

	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"US":12.5,"GB":5}`, string(b))
	assert.Equal(t, `{"US":12.5,"GB":5}`, string(b))
}

func TestSeriesJSONPreservesNullsAndOrder(t *testing.T) {
	var s Series
	require.NoError(t, json.Unmarshal([]byte(`{"2024-12-01":30,"2024-10-01":10,"2024-11-01":null}`), &s))

	require.Len(t, s, 3)
	assert.Equal(t, "2024-10-01", s[0].Period)
	assert.Nil(t, s[1].Value)
	assert.Equal(t, int64(30), *s[2].Value)

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `{"2024-10-01":10,"2024-11-01":null,"2024-12-01":30}`, string(b))

	assert.Len(t, s.Observed(), 2)
}

func TestSeriesRejectsNonObject(t *testing.T) {
	var s Series
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &s))
	assert.Error(t, json.Unmarshal([]byte(`{"2024-01-01":1.5}`), &s))
}

func TestToSourceRowKeepsMissingNestedFieldsNull(t *testing.T) {
	r := &Record{
		Domain:        "moz.com",
		TotalVisits:   i64(15000000),
		VisitsHistory: Series{{Period: "2024-10-01", Value: i64(1)}},
	}

	row, err := r.ToSourceRow()
	require.NoError(t, err)
	require.NotNil(t, row.VisitsHistoryRaw)
	assert.Equal(t, `{"2024-10-01":1}`, *row.VisitsHistoryRaw)
	assert.Nil(t, row.RankHistoryRaw)
	assert.Nil(t, row.TopCountriesRaw)

	back, err := row.VisitsHistory()
	require.NoError(t, err)
	assert.Equal(t, r.VisitsHistory, back)
}

func TestSourceRowToRecord(t *testing.T) {
	countries := `{"US":18.75,"IN":9.21}`
	visits := `{"2024-11-01":110,"2024-10-01":100}`
	row := &SourceRow{
		Domain:           "ahrefs.com",
		GlobalRank:       i64(280),
		VisitsHistoryRaw: &visits,
		TopCountriesRaw:  &countries,
	}

	rec, err := row.ToRecord()
	require.NoError(t, err)
	assert.Equal(t, "ahrefs.com", rec.Domain)
	assert.Equal(t, ShareMap{{Label: "US", Percent: 18.75}, {Label: "IN", Percent: 9.21}}, rec.TopCountries)
	require.Len(t, rec.VisitsHistory, 2)
	assert.Equal(t, "2024-10-01", rec.VisitsHistory[0].Period)
	assert.Nil(t, rec.RankHistory)
	assert.Nil(t, rec.AgeDistribution)

	bad := `["US"]`
	row.TopCountriesRaw = &bad
	_, err = row.ToRecord()
	assert.Error(t, err)
}
