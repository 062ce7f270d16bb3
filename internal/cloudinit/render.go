// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package cloudinit

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"gopkg.in/yaml.v3"
)

type renderedUser struct {
	Name              string   `yaml:"name"`
	Sudo              string   `yaml:"sudo,omitempty"`
	Shell             string   `yaml:"shell,omitempty"`
	Groups            string   `yaml:"groups,omitempty"`
	LockPasswd        bool     `yaml:"lock_passwd"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
}

type writeFile struct {
	Path        string `yaml:"path"`
	Content     string `yaml:"content"`
	Permissions string `yaml:"permissions,omitempty"`
	Owner       string `yaml:"owner,omitempty"`
}

type cloudConfigDoc struct {
	SSHAuthorizedKeys []string    `yaml:"ssh_authorized_keys,omitempty"`
	Users             []any       `yaml:"users,omitempty"`
	WriteFiles        []writeFile `yaml:"write_files,omitempty"`
}

func (d cloudConfigDoc) empty() bool {
	return len(d.SSHAuthorizedKeys) == 0 && len(d.Users) == 0 && len(d.WriteFiles) == 0
}

// Render produces the user data handed to the vim.
//
// A config holding only a single user data fragment is passed through
// verbatim. Otherwise a #cloud-config document is generated and, if user data
// fragments are present, combined with them into a multipart message.
func Render(c *Config) ([]byte, error) {
	if c.IsEmpty() {
		return nil, nil
	}
	doc := cloudConfigDoc{SSHAuthorizedKeys: c.KeyPairs}
	if len(c.Users) > 0 {
		doc.Users = append(doc.Users, "default")
		for _, u := range c.Users {
			doc.Users = append(doc.Users, renderedUser{
				Name:              u.Name,
				Sudo:              u.Sudo,
				Shell:             u.Shell,
				Groups:            strings.Join(u.Groups, ","),
				LockPasswd:        true,
				SSHAuthorizedKeys: u.KeyPairs,
			})
		}
	}
	for _, f := range c.ConfigFiles {
		doc.WriteFiles = append(doc.WriteFiles, writeFile{
			Path:        f.Dest,
			Content:     f.Content,
			Permissions: f.Permissions,
			Owner:       f.Owner,
		})
	}
	if doc.empty() {
		switch len(c.UserData) {
		case 0:
			return nil, nil
		case 1:
			return []byte(c.UserData[0]), nil
		}
	}

	var parts [][2]string
	if !doc.empty() {
		body, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("render cloud-config: %w", err)
		}
		cloudConfig := "#cloud-config\n" + string(body)
		if len(c.UserData) == 0 {
			return []byte(cloudConfig), nil
		}
		parts = append(parts, [2]string{"text/cloud-config", cloudConfig})
	}
	for _, fragment := range c.UserData {
		parts = append(parts, [2]string{fragmentType(fragment), fragment})
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\nMIME-Version: 1.0\n\n", w.Boundary())
	for i, part := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", part[0]+"; charset=\"us-ascii\"")
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"part-%03d\"", i))
		pw, err := w.CreatePart(header)
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write([]byte(part[1])); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fragmentType(fragment string) string {
	switch {
	case strings.HasPrefix(fragment, "#cloud-config"):
		return "text/cloud-config"
	case strings.HasPrefix(fragment, "#!"):
		return "text/x-shellscript"
	case strings.HasPrefix(fragment, "#include"):
		return "text/x-include-url"
	default:
		return "text/plain"
	}
}
