package storage

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "unnamed",
		},
		{
			name:     "simple filename",
			input:    "workspace.tar.gz",
			expected: "workspace.tar.gz",
		},
		{
			name:     "uppercase to lowercase",
			input:    "WORKSPACE.TAR.GZ",
			expected: "workspace.tar.gz",
		},
		{
			name:     "spaces replaced with underscore",
			input:    "my workspace.tar.gz",
			expected: "my_workspace.tar.gz",
		},
		{
			name:     "multiple spaces collapsed",
			input:    "my   workspace.tar.gz",
			expected: "my_workspace.tar.gz",
		},
		{
			name:     "special characters replaced",
			input:    "ws@#$%archive.tar.gz",
			expected: "ws_archive.tar.gz",
		},
		{
			name:     "leading underscore trimmed",
			input:    "_workspace.tar.gz",
			expected: "workspace.tar.gz",
		},
		{
			name:     "multiple underscores collapsed",
			input:    "ws___archive.tar.gz",
			expected: "ws_archive.tar.gz",
		},
		{
			name:     "parentheses replaced",
			input:    "workspace (1).tar.gz",
			expected: "workspace_1_.tar.gz",
		},
		{
			name:     "dashes preserved",
			input:    "my-workspace.tar.gz",
			expected: "my-workspace.tar.gz",
		},
		{
			name:     "numbers preserved",
			input:    "workspace123.tar.gz",
			expected: "workspace123.tar.gz",
		},
		{
			name:     "all special chars becomes unnamed",
			input:    "@#$%^&*()",
			expected: "unnamed",
		},
		{
			name:     "very long filename truncated",
			input:    strings.Repeat("a", 300),
			expected: strings.Repeat("a", 200),
		},
		{
			name:     "newlines replaced",
			input:    "ws\narchive.tar.gz",
			expected: "ws_archive.tar.gz",
		},
		{
			name:     "tabs replaced",
			input:    "ws\tarchive.tar.gz",
			expected: "ws_archive.tar.gz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGenerateArchiveKey(t *testing.T) {
	tests := []struct {
		name        string
		workspaceID string
		filename    string
	}{
		{name: "normal archive", workspaceID: "ws-123", filename: "archive.tar.gz"},
		{name: "archive with spaces", workspaceID: "ws-123", filename: "my archive.tar.gz"},
		{name: "empty filename", workspaceID: "ws-123", filename: ""},
		{name: "special characters in filename", workspaceID: "ws-123", filename: "a@rch#ive.tar.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateArchiveKey(tt.workspaceID, tt.filename)

			expectedPrefix := tt.workspaceID + "/"
			if !strings.HasPrefix(result, expectedPrefix) {
				t.Errorf("GenerateArchiveKey() prefix = %q, want prefix %q", result, expectedPrefix)
			}

			expectedSanitized := SanitizeFilename(tt.filename)
			if !strings.HasSuffix(result, "-"+expectedSanitized) {
				t.Errorf("GenerateArchiveKey() should end with -%q, got %q", expectedSanitized, result)
			}

			suffix := strings.TrimPrefix(result, expectedPrefix)
			dashCount := 0
			uuidEnd := -1
			for i, c := range suffix {
				if c == '-' {
					dashCount++
					if dashCount == 5 {
						uuidEnd = i
						break
					}
				}
			}

			if uuidEnd != 36 {
				t.Errorf("GenerateArchiveKey() UUID length should be 36, found UUID end at %d in %q", uuidEnd, suffix)
			}
		})
	}
}

func TestGenerateArchiveKey_UniquePerCall(t *testing.T) {
	key1 := GenerateArchiveKey("ws", "archive.tar.gz")
	key2 := GenerateArchiveKey("ws", "archive.tar.gz")

	if key1 == key2 {
		t.Error("GenerateArchiveKey() should return unique keys for each call")
	}
}

func TestConfig_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "only endpoint set",
			config: Config{
				Endpoint: "http://localhost:9000",
			},
			expected: false,
		},
		{
			name: "endpoint and access key set",
			config: Config{
				Endpoint:  "http://localhost:9000",
				AccessKey: "minioadmin",
			},
			expected: false,
		},
		{
			name: "all required fields set",
			config: Config{
				Endpoint:  "http://localhost:9000",
				AccessKey: "minioadmin",
				SecretKey: "minioadmin",
			},
			expected: true,
		},
		{
			name: "full config with all fields",
			config: Config{
				Endpoint:      "http://localhost:9000",
				AccessKey:     "minioadmin",
				SecretKey:     "minioadmin",
				Region:        "us-east-1",
				BucketArchive: "archives",
			},
			expected: true,
		},
		{
			name: "missing secret key",
			config: Config{
				Endpoint:  "http://localhost:9000",
				AccessKey: "minioadmin",
				SecretKey: "",
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.config.Enabled()
			if result != tt.expected {
				t.Errorf("Config.Enabled() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestService_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		service  Service
		expected bool
	}{
		{
			name:     "nil client",
			service:  Service{client: nil},
			expected: false,
		},
		{
			name:     "empty service",
			service:  Service{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.service.Enabled()
			if result != tt.expected {
				t.Errorf("Service.Enabled() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestUploadOptions(t *testing.T) {
	opts := UploadOptions{
		ContentType:        "application/gzip",
		ContentDisposition: "attachment; filename=\"archive.tar.gz\"",
		Metadata: map[string]string{
			"workspace": "ws-123",
		},
	}

	if opts.ContentType != "application/gzip" {
		t.Errorf("ContentType = %q, want application/gzip", opts.ContentType)
	}
	if opts.ContentDisposition != "attachment; filename=\"archive.tar.gz\"" {
		t.Errorf("ContentDisposition = %q, want attachment; filename=\"archive.tar.gz\"", opts.ContentDisposition)
	}
	if len(opts.Metadata) != 1 {
		t.Errorf("Metadata length = %d, want 1", len(opts.Metadata))
	}
}

func TestUploadResult(t *testing.T) {
	result := UploadResult{
		Key:         "ws-123/uuid-archive.tar.gz",
		Bucket:      "archives",
		ETag:        "abc123",
		Size:        1024,
		ContentType: "application/gzip",
		StorageURL:  "archives/ws-123/uuid-archive.tar.gz",
	}

	if result.Key != "ws-123/uuid-archive.tar.gz" {
		t.Errorf("Key = %q, want ws-123/uuid-archive.tar.gz", result.Key)
	}
	if result.Bucket != "archives" {
		t.Errorf("Bucket = %q, want archives", result.Bucket)
	}
	if result.ETag != "abc123" {
		t.Errorf("ETag = %q, want abc123", result.ETag)
	}
	if result.Size != 1024 {
		t.Errorf("Size = %d, want 1024", result.Size)
	}
	if result.ContentType != "application/gzip" {
		t.Errorf("ContentType = %q, want application/gzip", result.ContentType)
	}
}

func TestArchiveUploadOptions(t *testing.T) {
	opts := ArchiveUploadOptions{
		WorkspaceID: "ws-123",
		Filename:    "archive.tar.gz",
		UploadOptions: UploadOptions{
			ContentType: "application/gzip",
		},
	}

	if opts.WorkspaceID != "ws-123" {
		t.Errorf("WorkspaceID = %q, want ws-123", opts.WorkspaceID)
	}
	if opts.Filename != "archive.tar.gz" {
		t.Errorf("Filename = %q, want archive.tar.gz", opts.Filename)
	}
	if opts.ContentType != "application/gzip" {
		t.Errorf("ContentType = %q, want application/gzip", opts.ContentType)
	}
}
