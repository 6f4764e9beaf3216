// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

/*
Package rcon provides an RCON session client for the Source RCON protocol as described by Valve
Software at https://developer.valvesoftware.com/wiki/Source_RCON_Protocol.

The package is layered. [Encode], [Decode] and [ReadPacket] implement the length prefixed wire
format. [Conn] owns a single connection and reads exactly sized frames under a timeout.
[Authenticate] performs the one-shot password handshake. [Session] ties these together behind
[Session.Authenticate], [Session.Execute] and [Session.Close]:

	cfg, err := rcon.LoadConfig("rcon.yaml")
	if err != nil {
		log.Fatal(err)
	}

	s := rcon.NewSession(cfg)
	defer s.Close()

	info, err := s.Execute(ctx, "Info")

Errors keep their kind through every layer and can be tested with [errors.Is] against
[ErrAuthFailed], [ErrConnectionClosed], [ErrReadTimeout], [ErrNotConnected] and friends, or with
[errors.As] against [*ConnectError], [*DecodeError] and [*ExecutionError]. Nothing is retried.
*/
package rcon
