package core

import (
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveResource(t *testing.T) {
	tests := []struct {
		name    string
		current string
		ref     string
		pkg     string
		item    string
	}{
		{name: "item in current package", current: "/pub", ref: ":cube", pkg: "/pub", item: "cube"},
		{name: "absolute", current: "/pub", ref: "/std/bolts:m3", pkg: "/std/bolts", item: "m3"},
		{name: "relative", current: "/pub", ref: "parts:cube", pkg: "/pub/parts", item: "cube"},
		{name: "parent", current: "/pub/parts", ref: "../other:x", pkg: "/pub/other", item: "x"},
		{name: "package only", current: "/", ref: "sub", pkg: "/sub", item: "*"},
		{name: "dot", current: "/a", ref: ".:x", pkg: "/a", item: "x"},
		{name: "ellipsis", current: "/", ref: "/pub/...:...", pkg: "/pub/*", item: "*"},
		{name: "empty item", current: "/a", ref: "b:", pkg: "/a/b", item: "*"},
		{name: "root", current: "", ref: ":x", pkg: "/", item: "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, item, err := ResolveResource(tt.current, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.pkg, pkg)
			assert.Equal(t, tt.item, item)

			again, againItem, err := ResolveResource(tt.current, FormatResource(pkg, item))
			require.NoError(t, err)
			assert.Equal(t, pkg, again, "normalization is idempotent")
			assert.Equal(t, item, againItem)
		})
	}
}

func TestResolveResourceMalformed(t *testing.T) {
	_, _, err := ResolveResource("/", "a:b:c")
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestMatchPackage(t *testing.T) {
	assert.True(t, MatchPackage("/pub", "/pub"))
	assert.False(t, MatchPackage("/pub", "/pub/sub"))
	assert.True(t, MatchPackage("/*", "/pub/sub"))
	assert.True(t, MatchPackage("/pub/*", "/pub/sub/deep"))
	assert.True(t, MatchPackage("/pub/*", "/pub"))
	assert.False(t, MatchPackage("/pub/*", "/other"))
}
