package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{"public base", S3Config{Bucket: "b", Region: "r", PublicBase: "https://cdn.example.com/"}, "https://cdn.example.com/uploads/x.png"},
		{"custom endpoint", S3Config{Bucket: "b", Region: "r", Endpoint: "http://minio:9000"}, "http://minio:9000/b/uploads/x.png"},
		{"aws", S3Config{Bucket: "b", Region: "eu-west-1"}, "https://b.s3.eu-west-1.amazonaws.com/uploads/x.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{cfg: tt.cfg}
			assert.Equal(t, tt.want, c.FileURL("uploads/x.png"))
		})
	}

	var nilClient *Client
	assert.Empty(t, nilClient.FileURL("k"))
}
