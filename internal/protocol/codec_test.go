package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/smoker/internal/smoke"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "valid pack request",
			req: &Request{
				Protocol:   Version,
				Command:    CommandPack,
				PkgManager: smoke.StaticPkgManagerSpec{Name: "npm", Version: "10"},
				TmpDir:     "/tmp/smoker-npm-1",
				Workspace:  &smoke.WorkspaceInfo{Name: "pkg", LocalPath: "/src/pkg"},
				DeadlineAt: time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"protocol":1`) {
					t.Error("missing protocol field")
				}
				if !strings.Contains(output, `"command":"pack"`) {
					t.Error("missing command field")
				}
				if !strings.Contains(output, `"workspace":{`) {
					t.Error("missing workspace for pack command")
				}
				if strings.Contains(output, `"install_manifest"`) {
					t.Error("pack request should not carry an install manifest")
				}
			},
		},
		{
			name:    "unsupported protocol version",
			req:     &Request{Protocol: 2, Command: CommandPack},
			wantErr: true,
		},
		{
			name:    "missing command",
			req:     &Request{Protocol: Version},
			wantErr: true,
		},
		{
			name: "run-script request",
			req: &Request{
				Protocol: Version,
				Command:  CommandRunScript,
				Script:   &smoke.RunScriptManifest{PkgName: "pkg", Script: "smoke", Cwd: "/tmp/x/node_modules/pkg"},
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"script":{`) {
					t.Error("missing script manifest")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)

			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		checkFn func(t *testing.T, resp *Response)
	}{
		{
			name:  "pack ok",
			input: `{"status":"ok","tarball":"/tmp/x/pkg-1.0.0.tgz","pkg_name":"pkg"}`,
			checkFn: func(t *testing.T, resp *Response) {
				if resp.Tarball != "/tmp/x/pkg-1.0.0.tgz" || resp.PkgName != "pkg" {
					t.Errorf("unexpected pack response: %+v", resp)
				}
			},
		},
		{
			name:  "run-script nonzero exit",
			input: `{"status":"ok","exit_code":3,"stderr":"boom"}`,
			checkFn: func(t *testing.T, resp *Response) {
				if resp.ExitCode == nil || *resp.ExitCode != 3 {
					t.Errorf("exit_code = %v, want 3", resp.ExitCode)
				}
			},
		},
		{name: "error without message", input: `{"status":"error"}`, wantErr: true},
		{name: "invalid status", input: `{"status":"maybe"}`, wantErr: true},
		{name: "missing status", input: `{}`, wantErr: true},
		{name: "unknown field", input: `{"status":"ok","surprise":true}`, wantErr: true},
		{name: "not json", input: `hello`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.checkFn != nil && resp != nil {
				tt.checkFn(t, resp)
			}
		})
	}
}

func TestDecodeResponseLenient(t *testing.T) {
	resp, raw, err := DecodeResponseLenient(strings.NewReader(`{"status":"ok","extra":1}`))
	if err != nil {
		t.Fatalf("DecodeResponseLenient() error = %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if len(raw) == 0 {
		t.Error("expected raw bytes")
	}

	_, raw, err = DecodeResponseLenient(strings.NewReader(""))
	if err == nil {
		t.Fatal("expected error for empty output")
	}
	if len(raw) != 0 {
		t.Errorf("raw = %q, want empty", raw)
	}

	_, raw, err = DecodeResponseLenient(strings.NewReader("not json"))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if string(raw) != "not json" {
		t.Errorf("raw = %q, want original bytes", raw)
	}
}
