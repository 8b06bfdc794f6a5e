// Copyright 2023 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package healthdisco

import (
	"fmt"
	"net/netip"
)

// AddressResolver turns a wire endpoint into the dialable address a prober
// will use. A resolution failure is a per-cluster reconciliation failure:
// the offending cluster entry is skipped, the rest of the specifier is
// still processed.
type AddressResolver interface {
	Resolve(endpoint Endpoint) (string, error)
}

// NewLiteralResolver returns the default resolver, which accepts IP-literal
// addresses only and normalizes them to "host:port" form. The management
// endpoint is expected to send resolved addresses; anything else is an
// error rather than a trigger for DNS lookups on the reconcile path.
func NewLiteralResolver() AddressResolver {
	return literalResolver{}
}

type literalResolver struct{}

func (literalResolver) Resolve(endpoint Endpoint) (string, error) {
	ip, err := netip.ParseAddr(endpoint.Address)
	if err != nil {
		return "", fmt.Errorf("endpoint address %q is not an IP literal: %w", endpoint.Address, err)
	}
	if endpoint.Port > 65535 {
		return "", fmt.Errorf("endpoint port %d out of range", endpoint.Port)
	}
	return netip.AddrPortFrom(ip, uint16(endpoint.Port)).String(), nil
}
