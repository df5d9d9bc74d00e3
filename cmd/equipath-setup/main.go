// Command equipath-setup runs the one-time Groth16 setup for the
// attribution circuit and writes the proving and verifying keys to disk.
// The verifying key file is what verifier nodes load with -vk.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Omnipath2025/equipath/internal/logger"
	"github.com/Omnipath2025/equipath/internal/proof"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		pkPath = flag.String("pk", "proving.key", "Proving key output path")
		vkPath = flag.String("vk", "verifying.key", "Verifying key output path")
	)
	flag.Parse()

	logger.Init(false)

	logger.Info("compiling attribution circuit")

	cs, err := proof.Compile()
	if err != nil {
		return fmt.Errorf("compile circuit:\n%w", err)
	}

	logger.Info("circuit compiled", "constraints", cs.GetNbConstraints())
	logger.Info("running Groth16 setup")

	pk, vk, err := proof.Setup(cs)
	if err != nil {
		return fmt.Errorf("setup:\n%w", err)
	}

	pkBytes, err := proof.MarshalProvingKey(pk)
	if err != nil {
		return fmt.Errorf("marshal proving key:\n%w", err)
	}

	if err := os.WriteFile(*pkPath, pkBytes, 0600); err != nil {
		return fmt.Errorf("write proving key:\n%w", err)
	}

	vkBytes, err := proof.MarshalVerifyingKey(vk)
	if err != nil {
		return fmt.Errorf("marshal verifying key:\n%w", err)
	}

	if err := os.WriteFile(*vkPath, vkBytes, 0644); err != nil {
		return fmt.Errorf("write verifying key:\n%w", err)
	}

	logger.Info("setup complete", "provingKey", *pkPath, "verifyingKey", *vkPath)

	return nil
}
