package main

import (
	"fmt"

	"github.com/dukerupert/roomie/internal/push"
)

type VapidKeysCmd struct{}

func (c *VapidKeysCmd) Run() error {
	pub, priv, err := push.GenerateVAPIDKeys()
	if err != nil {
		return err
	}
	fmt.Printf("ROOMIE_VAPID_PUBLIC_KEY=%s\nROOMIE_VAPID_PRIVATE_KEY=%s\n", pub, priv)
	return nil
}
