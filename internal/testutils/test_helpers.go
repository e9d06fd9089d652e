package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// SampleCatalog is a catalog with a small type definition tree, one user and
// four type definitions.
const SampleCatalog = `version: "0.9.2"
vault: eService Production
properties: |
  mxupdate.plugin.version=0.9.2
  mxupdate.type.JPO.fileSuffix=_mxJPO.java
users:
  creator: secret
typeDefs:
  - name: Type
    prefix: TYPE_
    suffix: .mxu
    dir: datamodel/type
  - name: Attribute
    prefix: ATTRIBUTE_
    suffix: .mxu
    dir: datamodel/attribute
  - name: Policy
    prefix: POLICY_
    suffix: .mxu
    dir: datamodel/policy
  - name: JPO
    suffix: _mxJPO.java
    dir: program/jpo
tree:
  All:
    label: All
    children: [DataModel, Program]
  DataModel:
    label: Data Model
    typeDefs: [Type, Attribute, Policy]
  Program:
    label: Program
    typeDefs: [JPO]
`

// SampleItems are the files written next to SampleCatalog.
var SampleItems = map[string]string{
	"datamodel/type/TYPE_Part.mxu":              "mql mod type \"Part\" description \"a part\";\n",
	"datamodel/type/TYPE_Document.mxu":          "mql mod type \"Document\";\n",
	"datamodel/attribute/ATTRIBUTE_Weight.mxu":  "mql mod attribute \"Weight\" type real;\n",
	"program/jpo/org.example.Helper_mxJPO.java": "package org.example;\n\npublic class ${CLASSNAME} {\n}\n",
}

// FileHelpers provides utilities for working with test files
type FileHelpers struct{}

// NewFileHelpers creates a new file helpers instance
func NewFileHelpers() *FileHelpers {
	return &FileHelpers{}
}

// CreateTempFile creates a temporary file with given content
func (f *FileHelpers) CreateTempFile(t testing.TB, filename, content string) string {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, filename)

	err := os.WriteFile(filePath, []byte(content), 0644)
	require.NoError(t, err, "Should create temp file successfully")

	return filePath
}

// CreateTempDir creates a temporary directory structure
func (f *FileHelpers) CreateTempDir(t testing.TB, files map[string]string) string {
	tmpDir := t.TempDir()

	for filename, content := range files {
		filePath := filepath.Join(tmpDir, filepath.FromSlash(filename))

		err := os.MkdirAll(filepath.Dir(filePath), 0755)
		require.NoError(t, err, "Should create directory for %s", filename)

		err = os.WriteFile(filePath, []byte(content), 0644)
		require.NoError(t, err, "Should create file %s", filename)
	}

	return tmpDir
}

// NewCatalogDir creates a file backend root holding SampleCatalog and
// SampleItems.
func NewCatalogDir(t testing.TB) string {
	files := map[string]string{"mxdeploy-catalog.yaml": SampleCatalog}
	for p, content := range SampleItems {
		files[p] = content
	}
	return NewFileHelpers().CreateTempDir(t, files)
}
