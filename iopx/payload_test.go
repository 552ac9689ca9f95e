package iopx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayloadAccessorsAssertKind(t *testing.T) {
	p := Payload{Kind: PayloadIOVec, IOVec: []byte("hi")}
	assert.Equal(t, []byte("hi"), p.AsIOVec())
	assert.Panics(t, func() { p.AsBuffer() })
	assert.Panics(t, func() { p.AsText() })
}

func TestPayloadNameIndependentOfKind(t *testing.T) {
	p := Payload{Kind: PayloadBuffer, Name: "OPAR_XATTR_STORE_ID", Buffer: []byte("v")}
	assert.Equal(t, "OPAR_XATTR_STORE_ID", p.Name)
	assert.Equal(t, []byte("v"), p.AsBuffer())
}

func TestPayloadLocationsAndHosts(t *testing.T) {
	locs := []Location{{Path: "a"}, {Path: "b"}}
	p := Payload{Kind: PayloadLocations, Locations: locs}
	assert.Equal(t, locs, p.AsLocations())

	hp := Payload{Kind: PayloadHosts, Hosts: []string{"h1", "h2"}}
	assert.Equal(t, []string{"h1", "h2"}, hp.AsHosts())
}
