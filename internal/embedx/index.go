package embedx

import (
	"math/rand"
	"sort"
)

// flatIndex is the exhaustive inner-product correctness baseline.
type flatIndex struct {
	matrix [][]float32
}

func newFlatIndex(matrix [][]float32) *flatIndex {
	return &flatIndex{matrix: matrix}
}

func dot(a, b []float32) float32 {
	var sum float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func (f *flatIndex) search(query []float32, k int) []scoredPosition {
	scored := make([]scoredPosition, len(f.matrix))
	for i, row := range f.matrix {
		scored[i] = scoredPosition{position: i, score: dot(query, row)}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

// partitionedIndex is a coarse-quantizer (IVF-style) approximate index:
// vectors are assigned to the nearest of a small set of centroids trained
// once at build time; a query only scans the clusters closest to it.
type partitionedIndex struct {
	matrix    [][]float32
	centroids [][]float32
	clusters  [][]int // clusters[c] = row indices assigned to centroid c
	nProbe    int
}

func newPartitionedIndex(matrix [][]float32) *partitionedIndex {
	numClusters := isqrt(len(matrix))
	if numClusters < 1 {
		numClusters = 1
	}

	centroids := trainCentroids(matrix, numClusters)
	clusters := make([][]int, len(centroids))

	for i, row := range matrix {
		best, bestScore := 0, float32(-2)
		for c, centroid := range centroids {
			if s := dot(row, centroid); s > bestScore {
				best, bestScore = c, s
			}
		}
		clusters[best] = append(clusters[best], i)
	}

	nProbe := 8
	if nProbe > len(centroids) {
		nProbe = len(centroids)
	}

	return &partitionedIndex{matrix: matrix, centroids: centroids, clusters: clusters, nProbe: nProbe}
}

func (p *partitionedIndex) search(query []float32, k int) []scoredPosition {
	type centroidScore struct {
		index int
		score float32
	}
	cs := make([]centroidScore, len(p.centroids))
	for i, c := range p.centroids {
		cs[i] = centroidScore{index: i, score: dot(query, c)}
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].score > cs[j].score })

	probe := p.nProbe
	if probe > len(cs) {
		probe = len(cs)
	}

	var scored []scoredPosition
	for _, c := range cs[:probe] {
		for _, rowIdx := range p.clusters[c.index] {
			scored = append(scored, scoredPosition{position: rowIdx, score: dot(query, p.matrix[rowIdx])})
		}
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

// trainCentroids runs a fixed, small number of Lloyd's-algorithm iterations
// seeded from a deterministic pseudo-random subsample of the data.
func trainCentroids(matrix [][]float32, numClusters int) [][]float32 {
	if numClusters >= len(matrix) {
		centroids := make([][]float32, len(matrix))
		copy(centroids, matrix)
		return centroids
	}

	rng := rand.New(rand.NewSource(42))
	perm := rng.Perm(len(matrix))

	centroids := make([][]float32, numClusters)
	for i := 0; i < numClusters; i++ {
		centroids[i] = append([]float32(nil), matrix[perm[i]]...)
	}

	const iterations = 5
	dim := len(matrix[0])

	for iter := 0; iter < iterations; iter++ {
		sums := make([][]float64, numClusters)
		counts := make([]int, numClusters)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}

		for _, row := range matrix {
			best, bestScore := 0, float32(-2)
			for c, centroid := range centroids {
				if s := dot(row, centroid); s > bestScore {
					best, bestScore = c, s
				}
			}
			counts[best]++
			for d, v := range row {
				sums[best][d] += float64(v)
			}
		}

		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			updated := make([]float32, dim)
			for d := range updated {
				updated[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = normalize(updated)
		}
	}

	return centroids
}

func isqrt(n int) int {
	if n <= 0 {
		return 0
	}
	r := 1
	for r*r < n {
		r++
	}
	return r
}
