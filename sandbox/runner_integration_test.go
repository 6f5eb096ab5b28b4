// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package sandbox

import (
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	toxiproxy "github.com/Shopify/toxiproxy/v2/client"
	"github.com/stretchr/testify/require"
)

// TestNetworkDisabledClassificationViaToxiproxy exercises the
// NetworkDisabled path against a real network failure: a TCP connection
// through toxiproxy is cut by a "reset_peer" toxic and the read must fail.
// The test then composes the "Network is unreachable" stderr text the
// sandbox image prints for such a failure, with the real read error
// appended, and checks how classify maps it. Requires a toxiproxy server
// reachable at TOXIPROXY_ADDR; skipped otherwise.
func TestNetworkDisabledClassificationViaToxiproxy(t *testing.T) {
	addr := os.Getenv("TOXIPROXY_ADDR")
	if addr == "" {
		t.Skip("TOXIPROXY_ADDR not set, skipping toxiproxy integration test")
	}

	client := toxiproxy.NewClient(addr)
	upstream := os.Getenv("TOXIPROXY_UPSTREAM")
	require.NotEmpty(t, upstream, "TOXIPROXY_UPSTREAM must name the real service the proxy forwards to")

	proxy, err := client.CreateProxy("dryorm-network-test", "localhost:0", upstream)
	require.NoError(t, err)
	defer proxy.Delete()

	_, err = proxy.AddToxic("cut-connection", "reset_peer", "downstream", 1.0, toxiproxy.Attributes{
		"timeout": 0,
	})
	require.NoError(t, err)

	conn, err := net.DialTimeout("tcp", proxy.Listen, 2*time.Second)
	require.NoError(t, err)
	_, readErr := conn.Read(make([]byte, 1))
	conn.Close()
	require.Error(t, readErr, "expected the toxic to sever the connection")

	// The sandbox image reports a severed connection on stderr as an
	// OSError carrying "Network is unreachable"; classify must map that,
	// combined with exit code 1, to EventNetworkDisabled.
	// The interpolated readErr is the real failure the toxic produced.
	stderr := fmt.Sprintf("Traceback (most recent call last):\nOSError: [Errno 101] Network is unreachable (%v)", readErr)
	result := classify(1, nil, stderr)
	require.Equal(t, EventNetworkDisabled, result.Event)
}
