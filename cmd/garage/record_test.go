package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSets(t *testing.T) {
	tests := []struct {
		name    string
		sets    []string
		want    map[string]any
		wantErr bool
	}{
		{
			name: "typed values",
			sets: []string{"name=Alice Moto", "price=120", "paid=true", "notes=null"},
			want: map[string]any{"name": "Alice Moto", "price": float64(120), "paid": true, "notes": nil},
		},
		{
			name: "quoted json string",
			sets: []string{`phone="0612345678"`},
			want: map[string]any{"phone": "0612345678"},
		},
		{
			name: "value containing equals",
			sets: []string{"notes=a=b"},
			want: map[string]any{"notes": "a=b"},
		},
		{name: "empty", sets: nil, want: map[string]any{}},
		{name: "missing equals", sets: []string{"name"}, wantErr: true},
		{name: "empty key", sets: []string{"=x"}, wantErr: true},
		{name: "id not settable", sets: []string{"id=7"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSets(tt.sets)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDue(t *testing.T) {
	base := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	got, err := parseDue("2026-11-02T09:30:00Z", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 11, 2, 9, 30, 0, 0, time.UTC), got)

	got, err = parseDue("2026-11-02", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDue("tomorrow", base)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Day())

	_, err = parseDue("whenever you like", base)
	assert.Error(t, err)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 bytes", formatSize(512))
	assert.Equal(t, "2.0 KB", formatSize(2048))
	assert.Equal(t, "3.0 MB", formatSize(3*1024*1024))
}
