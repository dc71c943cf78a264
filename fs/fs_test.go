package appfs

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFS(t *testing.T) {
	for _, name := range []string{
		"assets/templates/email/_base.txt",
		"assets/templates/email/_base.gohtml",
		"assets/templates/email/welcome.txt",
		"assets/common-passwords.txt.gz",
		"migrations/00001_create_user_table.sql",
	} {
		_, err := fs.Stat(FS, name)
		assert.NoError(t, err, name)
	}
}
