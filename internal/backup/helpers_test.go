package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// newSiteProject lays out a small website checkout
func newSiteProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "src/pages/index.tsx", "export default function Home() {}")
	writeFile(t, root, "src/components/Nav.tsx", "export const Nav = () => null")
	writeFile(t, root, "content/posts/hello.md", "# Hello")
	writeFile(t, root, "public/favicon.ico", "icon")
	writeFile(t, root, "package.json", `{"name":"site","version":"1.4.2"}`)
	writeFile(t, root, "next.config.js", "module.exports = {}")
	writeFile(t, root, ".next/BUILD_ID", "build-1")
	writeFile(t, root, ".next/static/chunk.js", "console.log(1)")
	return root
}
