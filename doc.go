// Package gamelink delivers small game protocol messages between devices
// over whichever transport is available: Bluetooth RFCOMM, data SMS, an
// MQTT broker or a WiFi-Direct group.
//
// A Dispatcher owns one link per transport. Each link runs a single
// worker goroutine that sends queued items in order per destination,
// keeps failed items in a retry ledger and gives up on an item after a
// bounded number of failures. Inbound frames are handed to the game layer
// through interfaces.GameEngine, and everything worth telling the
// application about arrives on the event stream.
//
// # Getting Started
//
//	engine := mygame.NewEngine() // implements interfaces.GameEngine
//	d, err := gamelink.New(gamelink.Options{Engine: engine})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Close()
//
//	d.Register(func(deps transport.Deps) transport.Link {
//	    return wifidirect.New(wifidirect.Config{MAC: myMAC, Name: "Alice"}, deps)
//	})
//	if err := d.Start(ctx); err != nil {
//	    log.Printf("some transports are disabled: %v", err)
//	}
//
//	events, stop := d.Subscribe(64)
//	defer stop()
//
//	err = d.EnqueueSend(transport.KindWiFiDirect, gameID,
//	    gamelink.Peer{Addr: "aa:bb:cc:dd:ee:ff"}, move)
//
// # Failure Isolation
//
// A transport whose setup fails is disabled: a TransportDisabled event is
// published, enqueues for it return transport.ErrDisabled, and the other
// transports carry on. Reinit rebuilds and restarts it, carrying over
// anything still pending.
//
// The factory package builds a Dispatcher and its transports from a
// config.Config.
package gamelink
