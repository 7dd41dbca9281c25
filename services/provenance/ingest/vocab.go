// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import "strconv"

// VertexType is the closed vocabulary of provenance node kinds. The numeric
// values are the type ids written to edge lists.
type VertexType int

const (
	VertexUnknown VertexType = iota
	VertexTask
	VertexLink
	VertexSocket
	VertexIattr
	VertexMmapedFile
	VertexPacket
	VertexDiscNode
	VertexDiscAgent
	VertexDiscActivity
	VertexDiscEntity
	VertexFileName
	VertexSB
	VertexAddress
	VertexSock
	VertexShm
	VertexMsg
	VertexFifo
	VertexBlock
	VertexChar
	VertexDirectory
	VertexFile
	VertexInodeUnknown
	VertexRelation
	VertexString
	VertexXattr
	VertexPacketContent
)

var vertexNames = [...]string{
	"unknown", "task", "link", "socket", "iattr", "mmaped_file", "packet",
	"disc_node", "disc_agent", "disc_activity", "disc_entity", "file_name",
	"sb", "address", "sock", "shm", "msg", "fifo", "block", "char",
	"directory", "file", "inode_unknown", "relation", "string", "xattr",
	"packet_content",
}

// EdgeType is the closed vocabulary of provenance relation kinds.
type EdgeType int

const (
	EdgeRead EdgeType = iota
	EdgeWrite
	EdgeCreate
	EdgeMmapWrite
	EdgeOpen
	EdgeVersionEntity
	EdgeNamed
	EdgeExec
	EdgeClone
	EdgeMmapRead
	EdgeMmapExec
	EdgePermRead
	EdgePermExec
	EdgeUnknown
	EdgeChange
	EdgeBind
	EdgeConnect
	EdgeListen
	EdgeAccept
	EdgeLink
	EdgeSearch
	EdgeSend
	EdgeReceive
	EdgePermWrite
	EdgeShWrite
	EdgeMmap
	EdgeSetattr
	EdgeSetxattr
	EdgeRemovexattr
	EdgeNamedProcess
	EdgeExecProcess
	EdgeVersionActivity
	EdgeGetattr
	EdgeGetxattr
	EdgeListxattr
	EdgeReadlink
	EdgeShRead
	EdgeSendPacket
	EdgeReceivePacket
)

var edgeNames = [...]string{
	"read", "write", "create", "mmap_write", "open", "version_entity",
	"named", "exec", "clone", "mmap_read", "mmap_exec", "perm_read",
	"perm_exec", "unknown", "change", "bind", "connect", "listen", "accept",
	"link", "search", "send", "receive", "perm_write", "sh_write", "mmap",
	"setattr", "setxattr", "removexattr", "named_process", "exec_process",
	"version_activity", "getattr", "getxattr", "listxattr", "readlink",
	"sh_read", "send_packet", "receive_packet",
}

var (
	vertexByName = indexNames(vertexNames[:])
	edgeByName   = indexNames(edgeNames[:])
)

func indexNames(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = i
	}
	return m
}

// ParseVertexType maps a prov:type name to its vertex type. Names outside
// the vocabulary map to VertexUnknown; the bool reports whether the name
// was recognised.
func ParseVertexType(name string) (VertexType, bool) {
	v, ok := vertexByName[name]
	if !ok {
		return VertexUnknown, false
	}
	return VertexType(v), true
}

// ParseEdgeType maps a relation's prov:type name to its edge type. Names
// outside the vocabulary map to EdgeUnknown.
func ParseEdgeType(name string) (EdgeType, bool) {
	v, ok := edgeByName[name]
	if !ok {
		return EdgeUnknown, false
	}
	return EdgeType(v), true
}

func (t VertexType) String() string {
	if t < 0 || int(t) >= len(vertexNames) {
		return "VertexType(" + strconv.Itoa(int(t)) + ")"
	}
	return vertexNames[t]
}

func (t EdgeType) String() string {
	if t < 0 || int(t) >= len(edgeNames) {
		return "EdgeType(" + strconv.Itoa(int(t)) + ")"
	}
	return edgeNames[t]
}
