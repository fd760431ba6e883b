//nolint:varnamelen // Test files use idiomatic short variable names (t, tt, etc.)
package config_test

import (
	"strings"
	"testing"

	"github.com/joe/netmedia/internal/config"
)

// TestValidate_Paths exercises path validation through Validate for each subcommand shape.
//
//nolint:funlen // Comprehensive table-driven test with many URL validation cases
func TestValidate_Paths(t *testing.T) {
	t.Parallel()

	transfer := func(sources []string, dest string) config.Args {
		return config.Args{Copy: &config.TransferCmd{Sources: sources, Dest: dest}}
	}

	tests := []struct {
		name    string
		args    config.Args
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid SMB to SFTP copy",
			args: transfer([]string{"smb://nas/Media/a.jpg"}, "sftp://user@host/dest"),
		},
		{
			name: "valid SFTP URL with port and no user",
			args: transfer([]string{"sftp://host:2222/path/to/a.jpg"}, "/tmp"),
		},
		{
			name: "valid FTP and local mix",
			args: transfer([]string{"ftp://nas/in/a.jpg", "/home/me/b.jpg"}, "smb://nas/Backup"),
		},
		{
			name:    "SMB URL without share",
			args:    transfer([]string{"smb://nas"}, "/tmp"),
			wantErr: true,
			errMsg:  "must include a share",
		},
		{
			name:    "URL without host",
			args:    transfer([]string{"sftp:///path"}, "/tmp"),
			wantErr: true,
			errMsg:  "must include a host",
		},
		{
			name:    "invalid port",
			args:    transfer([]string{"ftp://nas:99999/a"}, "/tmp"),
			wantErr: true,
			errMsg:  "invalid port",
		},
		{
			name:    "unsupported scheme",
			args:    transfer([]string{"webdav://nas/a"}, "/tmp"),
			wantErr: true,
			errMsg:  "unsupported scheme",
		},
		{
			name:    "empty destination",
			args:    transfer([]string{"/tmp/a"}, ""),
			wantErr: true,
			errMsg:  "destination path is required",
		},
		{
			name:    "empty delete path",
			args:    config.Args{Delete: &config.DeleteCmd{Paths: []string{""}}},
			wantErr: true,
			errMsg:  "must not be empty",
		},
		{
			name:    "credential for a local path",
			args:    config.Args{Creds: &config.CredsCmd{Add: &config.CredsAddCmd{URL: "/srv/media"}}},
			wantErr: true,
			errMsg:  "must use smb://, sftp:// or ftp://",
		},
		{
			name: "credential for an SFTP server",
			args: config.Args{Creds: &config.CredsCmd{Add: &config.CredsAddCmd{URL: "sftp://nas:2222"}}},
		},
		{
			name:    "scan with a broken URL",
			args:    config.Args{Scan: &config.ScanCmd{ScanArgs: config.ScanArgs{Path: "smb://:445/x"}}},
			wantErr: true,
			errMsg:  "must include a host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &config.Config{Args: tt.args, Settings: config.DefaultSettings()}

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.errMsg)
					return
				}

				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %q, want error containing %q", err.Error(), tt.errMsg)
				}

				return
			}

			if err != nil {
				t.Errorf("Validate() unexpected error = %v", err)
			}
		})
	}
}
