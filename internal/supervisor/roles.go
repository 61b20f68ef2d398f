package supervisor

import (
	"embed"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/nyasuto/hive/internal/bee"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
)

//go:embed roles/*.md
var roleFS embed.FS

// ackToken is the text a bee echoes to confirm role injection. The role
// documents instruct the bee to reply with exactly this string.
const ackToken = "ROLE_ACKNOWLEDGED"

// roleContext is the data rendered into a role document.
type roleContext struct {
	Bee     string
	Session string
	TaskID  string
}

// roleDocument renders the role document for a bee. A roles directory from
// configuration overrides the embedded templates file-by-file.
func (s *Supervisor) roleDocument(name bee.Name, taskID string) (string, error) {
	raw, err := s.roleSource(name)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(name.String()).Parse(raw)
	if err != nil {
		return "", apperrors.Internal("role template for "+name.String()+" is invalid", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, roleContext{
		Bee:     name.String(),
		Session: s.client.Session(),
		TaskID:  taskID,
	}); err != nil {
		return "", apperrors.Internal("role template for "+name.String()+" failed to render", err)
	}
	return sb.String(), nil
}

func (s *Supervisor) roleSource(name bee.Name) (string, error) {
	file := name.String() + ".md"
	if s.rolesDir != "" {
		data, err := os.ReadFile(filepath.Join(s.rolesDir, file))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", apperrors.Internal("failed to read role document", err)
		}
		// Fall through to the embedded copy.
	}
	data, err := roleFS.ReadFile("roles/" + file)
	if err != nil {
		return "", apperrors.NotFound("role document", name.String())
	}
	return string(data), nil
}
