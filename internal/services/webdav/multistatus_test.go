package webdav

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMultistatus(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		collection string
		want       []string
	}{
		{
			name: "relative hrefs",
			body: `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
  <D:response><D:href>/dav/backups/</D:href></D:response>
  <D:response><D:href>/dav/backups/mysql_20230101120000.sql.gz</D:href></D:response>
</D:multistatus>`,
			collection: "/dav/backups/",
			want:       []string{"mysql_20230101120000.sql.gz"},
		},
		{
			name: "absolute hrefs and escaping",
			body: `<multistatus xmlns="DAV:">
  <response><href>https://dav.example.com/dav/backups</href></response>
  <response><href>https://dav.example.com/dav/backups/my%20files_20230101120000.tar.gz</href></response>
</multistatus>`,
			collection: "/dav/backups",
			want:       []string{"my files_20230101120000.tar.gz"},
		},
		{
			name: "subcollection trailing slash trimmed",
			body: `<d:multistatus xmlns:d="DAV:">
  <d:response><d:href>/b/old_20200101000000/</d:href></d:response>
</d:multistatus>`,
			collection: "/b",
			want:       []string{"old_20200101000000"},
		},
		{
			name: "href outside DAV namespace ignored",
			body: `<d:multistatus xmlns:d="DAV:" xmlns:x="urn:other">
  <d:response><d:href>/b/a_20230101000000.tar.gz</d:href><x:href>/b/ignored</x:href></d:response>
</d:multistatus>`,
			collection: "/b",
			want:       []string{"a_20230101000000.tar.gz"},
		},
		{
			name:       "empty multistatus",
			body:       `<d:multistatus xmlns:d="DAV:"/>`,
			collection: "/b",
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMultistatus(strings.NewReader(tt.body), tt.collection)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMultistatus_Malformed(t *testing.T) {
	_, err := ParseMultistatus(strings.NewReader(`<d:multistatus xmlns:d="DAV:"><d:href>`), "/")

	assert.Error(t, err)
}
