// cmd/simulator runs a Modbus TCP slave seeded with the register layout
// spec.md §8's S1-S6 scenarios exercise, for manual end-to-end runs of
// cmd/bridge against a real (if fake) Modbus peer.
//
// Grounded on the teacher's cmd/tools/mb-sim/main.go: same
// mbserver.NewServer/ListenTCP shape, generalized from a handful of
// hand-seeded coils to the full coil/discrete-input/holding/input layout the
// bridge's test scenarios address.
package main

import (
	"log"
	"os"
	"time"

	"github.com/tbrandon/mbserver"
)

func main() {
	addr := os.Getenv("MB_LISTEN_ADDR")
	if addr == "" {
		addr = ":1502"
	}

	srv := mbserver.NewServer()
	seed(srv)

	if err := srv.ListenTCP(addr); err != nil {
		log.Fatalf("ListenTCP: %v", err)
	}
	defer srv.Close()
	log.Printf("modbus tcp simulator listening on %s", addr)

	for {
		time.Sleep(time.Second)
	}
}

// seed populates the registers spec.md's S1-S6 scenarios read and write:
// S1's test_sensor (holding), S2's test_switch write-then-readback (holding,
// int32 across two words), S3's shared input register for the dual-object
// availability scenario, and a handful of coils/discrete inputs for simple
// on/off objects.
func seed(srv *mbserver.Server) {
	srv.HoldingRegisters[0] = 32456 // HR40001, S1's test_sensor
	srv.HoldingRegisters[1] = 2     // HR40002 )
	srv.HoldingRegisters[2] = 1     // HR40003 ) S2's test_switch int32 write target

	srv.InputRegisters[0] = 1 // IR30001, S3's shared register

	srv.Coils[0] = 1
	srv.Coils[1] = 0

	srv.DiscreteInputs[0] = 1
}
