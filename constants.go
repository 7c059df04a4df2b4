package cowbackup

import "time"

// Bit-exact constants from the data model (§3/§6).
const (
	// SectorSize is the fixed size of a single sector in bytes.
	SectorSize = 512

	// ClusterSize is the fixed granularity of the CoW engine: 64 KiB.
	ClusterSize = 64 * 1024

	// SectorsPerCluster is ClusterSize / SectorSize.
	SectorsPerCluster = ClusterSize / SectorSize

	// SliceDuration is the rate limiter's accounting window (§4.C).
	SliceDuration = 100 * time.Millisecond
)

// clusterOf returns the cluster index covering sector.
func clusterOf(sector int64) int64 {
	return sector / SectorsPerCluster
}

// clusterEnd returns the exclusive end cluster index covering the sector
// range [sector, sector+nSectors).
func clusterEnd(sector, nSectors int64) int64 {
	last := sector + nSectors
	return (last + SectorsPerCluster - 1) / SectorsPerCluster
}

// numClusters returns ceil(lengthSectors / SectorsPerCluster).
func numClusters(lengthSectors int64) int64 {
	return (lengthSectors + SectorsPerCluster - 1) / SectorsPerCluster
}
