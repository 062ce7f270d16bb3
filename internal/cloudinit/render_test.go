// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package cloudinit

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestRender(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		out, err := Render(nil)
		if err != nil || out != nil {
			t.Fatalf("expected nothing, got %q, %v", out, err)
		}
	})
	t.Run("single fragment passes through", func(t *testing.T) {
		out, err := Render(&Config{UserData: Fragments{"#!/bin/sh\necho hi"}})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if string(out) != "#!/bin/sh\necho hi" {
			t.Fatalf("unexpected output %q", out)
		}
	})
	t.Run("cloud-config", func(t *testing.T) {
		out, err := Render(&Config{
			KeyPairs:    []string{"ssh-rsa AAA"},
			Users:       []User{{Name: "ops", KeyPairs: []string{"ssh-rsa BBB"}, Groups: []string{"wheel", "adm"}}},
			ConfigFiles: []ConfigFile{{Dest: "/etc/motd", Content: "hello"}},
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		text := string(out)
		if !strings.HasPrefix(text, "#cloud-config\n") {
			t.Fatalf("expected cloud-config header, got %q", text)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(out, &doc); err != nil {
			t.Fatalf("expected valid yaml, got %v", err)
		}
		users, ok := doc["users"].([]any)
		if !ok || len(users) != 2 || users[0] != "default" {
			t.Fatalf("expected default plus one user, got %v", doc["users"])
		}
		if !strings.Contains(text, "groups: wheel,adm") {
			t.Fatalf("expected joined groups, got %q", text)
		}
		if !strings.Contains(text, "path: /etc/motd") {
			t.Fatalf("expected write_files entry, got %q", text)
		}
	})
	t.Run("multipart", func(t *testing.T) {
		out, err := Render(&Config{
			KeyPairs: []string{"ssh-rsa AAA"},
			UserData: Fragments{"#!/bin/sh\necho one"},
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		text := string(out)
		for _, want := range []string{"multipart/mixed", "text/cloud-config", "text/x-shellscript", "echo one"} {
			if !strings.Contains(text, want) {
				t.Errorf("expected %q in output %q", want, text)
			}
		}
	})
}
