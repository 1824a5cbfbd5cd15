package spawner

import "fmt"

// fargateMemory lists the valid memory range, in MiB, for each Fargate CPU
// unit value. Memory steps in 1024 MiB increments above 2048.
var fargateMemory = map[int]struct{ min, max, step int }{
	256:  {512, 2048, 512},
	512:  {1024, 4096, 1024},
	1024: {2048, 8192, 1024},
	2048: {4096, 16384, 1024},
	4096: {8192, 30720, 1024},
}

// ValidateTaskSize checks a cpu/memory combination against the Fargate
// support matrix.
func ValidateTaskSize(cpu, memory int) error {
	rng, ok := fargateMemory[cpu]
	if !ok {
		return fmt.Errorf("unsupported cpu value %d: must be one of 256, 512, 1024, 2048, 4096", cpu)
	}
	if memory < rng.min || memory > rng.max || memory%rng.step != 0 {
		return fmt.Errorf("memory %d is not valid for cpu %d: must be %d-%d in steps of %d",
			memory, cpu, rng.min, rng.max, rng.step)
	}
	return nil
}
