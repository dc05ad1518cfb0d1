package module

import "archiver/internal/services/archiver/domain"

// Ports defines archiver module ports exposed via the registry
type Ports struct {
	Runner domain.RunnerPort
	Status domain.StatusPort
}
