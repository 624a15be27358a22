package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRemoteSource(t *testing.T) {
	assert.True(t, IsRemoteSource("https://github.com/owner/repo"))
	assert.True(t, IsRemoteSource("http://git.example.com/repo.git"))
	assert.True(t, IsRemoteSource("git@github.com:owner/repo.git"))
	assert.False(t, IsRemoteSource("/home/user/projects/repo"))
	assert.False(t, IsRemoteSource("./relative/path"))
	assert.False(t, IsRemoteSource("repo"))
}

func TestRepoNameFromSource(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"https://github.com/owner/my-repo", "my-repo"},
		{"https://github.com/owner/my-repo.git", "my-repo"},
		{"https://github.com/owner/my-repo/", "my-repo"},
		{"git@github.com:owner/my-repo.git", "my-repo"},
		{"/home/user/projects/demo", "demo"},
		{"/home/user/projects/demo/", "demo"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, RepoNameFromSource(tt.source))
		})
	}
}

func TestParseGitHubRepo(t *testing.T) {
	tests := []struct {
		source    string
		wantOwner string
		wantRepo  string
		wantOK    bool
	}{
		{"https://github.com/octocat/hello", "octocat", "hello", true},
		{"https://github.com/octocat/hello.git", "octocat", "hello", true},
		{"git@github.com:octocat/hello.git", "octocat", "hello", true},
		{"https://gitlab.com/octocat/hello", "", "", false},
		{"https://github.com/octocat", "", "", false},
		{"https://github.com/octocat/hello/tree/main", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			owner, repo, ok := parseGitHubRepo(tt.source)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantOwner, owner)
			assert.Equal(t, tt.wantRepo, repo)
		})
	}
}

func TestMaterialize_LocalDirectory(t *testing.T) {
	dir := t.TempDir()
	f := NewFetcher(t.TempDir(), "", nil)

	checkout, err := f.Materialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Base(dir), checkout.Name)
	assert.Equal(t, dir, checkout.Path)
	assert.False(t, checkout.IsRemote)
}

func TestMaterialize_LocalMissing(t *testing.T) {
	f := NewFetcher(t.TempDir(), "", nil)

	_, err := f.Materialize(context.Background(), "/definitely/not/a/path")
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestMaterialize_LocalFileNotDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	f := NewFetcher(t.TempDir(), "", nil)
	_, err := f.Materialize(context.Background(), file)
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestFetcher_AuthOnlyWithToken(t *testing.T) {
	assert.Nil(t, NewFetcher(t.TempDir(), "", nil).auth())

	auth := NewFetcher(t.TempDir(), "ghp_secret", nil).auth()
	require.NotNil(t, auth)
	assert.Equal(t, "oauth2", auth.Username)
	assert.Equal(t, "ghp_secret", auth.Password)
}
