package accounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	list, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLoadSkipsBlankUsernames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	doc := `[{"username":"stu001","password":"pw"},{"username":"  "},{"username":"stu002"}]`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	list, err := Load(path)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "stu001", list[0].Username)
	assert.Equal(t, "stu002", list[1].Username)
}

func TestNormalizeAppliesDefaultPassword(t *testing.T) {
	a := Account{Username: " stu001 ", Password: "  "}
	a.Normalize("123456")
	assert.Equal(t, "stu001", a.Username)
	assert.Equal(t, "123456", a.Password)

	b := Account{Username: "stu002", Password: "own"}
	b.Normalize("123456")
	assert.Equal(t, "own", b.Password)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	in := []Account{
		{Username: "stu001", Password: "pw", Status: StatusDone},
		{Username: "stu002", Status: StatusFailed},
	}
	require.NoError(t, Save(path, in))

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
