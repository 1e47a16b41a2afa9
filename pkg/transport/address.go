// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pingcap/jobmesh/pkg/errors"
	"github.com/thanhpk/randstr"
)

// Address schemes.
const (
	SchemeInproc = "inproc"
	SchemeTCP    = "tcp"
)

const schemeSep = "://"

// ParseAddress splits addr into its scheme and target. The target of an
// inproc address is an arbitrary name, the target of a tcp address is a
// host:port pair.
func ParseAddress(addr string) (scheme string, target string, err error) {
	idx := strings.Index(addr, schemeSep)
	if idx <= 0 {
		return "", "", errors.ErrInvalidAddress.GenWithStackByArgs(addr)
	}
	scheme, target = addr[:idx], addr[idx+len(schemeSep):]
	if target == "" {
		return "", "", errors.ErrInvalidAddress.GenWithStackByArgs(addr)
	}
	switch scheme {
	case SchemeInproc:
	case SchemeTCP:
		if _, _, err := net.SplitHostPort(target); err != nil {
			return "", "", errors.WrapError(errors.ErrInvalidAddress, err, addr)
		}
	default:
		return "", "", errors.ErrInvalidAddress.GenWithStackByArgs(addr)
	}
	return scheme, target, nil
}

// DeriveAddress returns the address of the i-th replica of a component
// configured with addr. Inproc names get a "-i" suffix and tcp ports are
// shifted by i.
func DeriveAddress(addr string, i int) (string, error) {
	scheme, target, err := ParseAddress(addr)
	if err != nil {
		return "", err
	}
	if i == 0 {
		return addr, nil
	}
	if scheme == SchemeInproc {
		return fmt.Sprintf("%s%s%s-%d", scheme, schemeSep, target, i), nil
	}
	host, portStr, _ := net.SplitHostPort(target)
	port, err := strconv.Atoi(portStr)
	if err != nil || port == 0 {
		return "", errors.ErrInvalidAddress.GenWithStackByArgs(addr)
	}
	return fmt.Sprintf("%s%s%s", scheme, schemeSep, net.JoinHostPort(host, strconv.Itoa(port+i))), nil
}

// NewInprocAddress returns a fresh inproc address starting with prefix.
func NewInprocAddress(prefix string) string {
	return fmt.Sprintf("%s%s%s-%s", SchemeInproc, schemeSep, prefix, randstr.Hex(8))
}

// TCPAddress formats a tcp address.
func TCPAddress(host string, port int) string {
	return SchemeTCP + schemeSep + net.JoinHostPort(host, strconv.Itoa(port))
}
