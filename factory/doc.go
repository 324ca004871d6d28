// Package factory turns a config.Config into a running set of transports.
//
// Build opens the store, creates the metrics collectors, derives the MQTT
// device id and registers one link per enabled transport with a new
// gamelink.Dispatcher. Nothing touches a radio or the network until the
// dispatcher is started.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	node, err := factory.Build(cfg, factory.Options{Engine: engine})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//	if err := node.Start(ctx); err != nil {
//	    log.Printf("running with some transports disabled: %v", err)
//	}
//
// # Simulation
//
// Setting Options.Network routes SMS through an in-process
// simulation.RadioNetwork instead of a modem, which is how
// `gamelinkd serve --simulate` runs without hardware.
package factory
