package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFExporterRender(t *testing.T) {
	data := Dataset{Headers: []string{"Patient", "Score", "Réponses critiques"}}
	data.AddRow("a@x.com", "1.5", strings.Repeat("Douleur au repos ? ", 20))

	out, err := NewPDFExporter().Render(data, "Alertes critiques")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestPDFExporterRejectsInvalidDatasets(t *testing.T) {
	_, err := NewPDFExporter().Render(Dataset{}, "x")
	require.Error(t, err)

	_, err = NewPDFExporter().Render(Dataset{Headers: []string{"a"}, Rows: [][]string{{"1", "2"}}}, "")
	require.Error(t, err)
}
