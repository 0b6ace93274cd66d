// Package accounts loads and persists the account roster the run iterates
// over. The file is plain JSON so operators can edit it by hand between runs.
package accounts

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Run outcome labels shown to the operator. The site and its users are
// Chinese, so statuses stay in Chinese.
const (
	StatusPending     = ""
	StatusWorking     = "处理中"
	StatusDone        = "已完成"
	StatusFailed      = "出错"
	StatusInterrupted = "已中断"
)

// Account is one site login. Status carries the latest run outcome.
type Account struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Normalize trims whitespace and fills an empty password with the default.
func (a *Account) Normalize(defaultPassword string) {
	a.Username = strings.TrimSpace(a.Username)
	a.Password = strings.TrimSpace(a.Password)
	if a.Password == "" {
		a.Password = defaultPassword
	}
}

// Load reads the roster. A missing file yields an empty roster, not an
// error; the importer and manual edits create the file later.
func Load(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read accounts: %w", err)
	}

	var list []Account
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse accounts %s: %w", path, err)
	}

	out := list[:0]
	for _, a := range list {
		if strings.TrimSpace(a.Username) == "" {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Save writes the roster back as indented JSON.
func Save(path string, list []Account) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write accounts: %w", err)
	}
	return nil
}
