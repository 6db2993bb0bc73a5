// Package elmax provides a Go client library for Elmax alarm control panels.
//
// The library talks to the Elmax cloud API or directly to a panel on the
// local network. It handles login and token renewal, reads panel and
// endpoint status, sends commands, and follows the push notification
// channel for live updates.
//
// # Authentication
//
// Cloud access uses the account credentials:
//
//	client, err := elmax.NewClient("user@example.com", "password")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Local access uses the panel API URL and its PIN. Panels use self-signed
// certificates, so pin the certificate first:
//
//	pem, err := elmax.RetrieveServerCertificate(ctx, "192.168.1.139", 443)
//	tlsCfg, err := elmax.TLSConfigFromPEM(pem)
//	client, err := elmax.NewLocalClient("https://192.168.1.139/api/v2", "000000",
//	    elmax.WithTLSConfig(tlsCfg))
//
// Every operation logs in on first use and renews the token when it is
// about to expire. Login can also be called explicitly.
//
// # Basic Usage
//
// List panels and read the status of the first online one:
//
//	panels, err := client.ListControlPanels(ctx)
//	online := elmax.FilterOnline(panels)
//	status, err := client.GetPanelStatus(ctx, online[0].Hash, "000000")
//	for _, zone := range status.Zones {
//	    fmt.Printf("%s open=%v\n", zone.Name, zone.Opened)
//	}
//
// Execute a command:
//
//	_, err := client.ExecuteCommand(ctx, actuatorID, elmax.CommandTurnOn, nil)
//	_, err = client.ExecuteCommand(ctx, areaID, elmax.CommandArmTotally, elmax.AreaCode("000000"))
//
// A panel busy with another command answers 422; ExecuteCommand retries and
// returns a *PanelBusyError once every attempt was busy.
//
// # Push Notifications
//
//	endpoint, _ := client.PushEndpoint()
//	push, err := elmax.NewPushNotificationHandler(endpoint, client)
//	push.RegisterFunc(func(ctx context.Context, status *elmax.PanelStatus) error {
//	    fmt.Println("panel updated:", status.PanelID)
//	    return nil
//	})
//	push.Start(ctx)
//	defer push.Stop()
//
// The handler reconnects after failures and waits DefaultPushErrorWait
// between attempts.
//
// # Error Handling
//
//	status, err := client.GetPanelStatus(ctx, panelID, pin)
//	if elmax.IsBadPIN(err) {
//	    // wrong PIN
//	}
//	if elmax.IsNetworkError(err) {
//	    // panel or cloud unreachable
//	}
//
// # Configuration
//
// Programs can load a YAML file with ELMAX_* environment overrides:
//
//	cfg, err := elmax.LoadConfig("elmax.yaml")
//	client, err := cfg.NewClient()
package elmax
