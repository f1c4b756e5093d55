package stitch

import "sort"

// filterKeypoints buckets keypoints into overlap x overlap pixel bins and
// keeps the finest-scale (lowest sigma) keypoints per bin, distributing
// maxKeypoints evenly across however many bins were populated (spec §4.H
// step 5).
func filterKeypoints(keypoints []Keypoint, descriptors [][]float64, overlap, maxKeypoints int) ([]Keypoint, [][]float64) {
	type indexed struct {
		sigma float64
		index int
	}
	buckets := make(map[[2]int][]indexed)
	for i, kp := range keypoints {
		key := [2]int{int(kp.X) / overlap, int(kp.Y) / overlap}
		buckets[key] = append(buckets[key], indexed{sigma: kp.Sigma, index: i})
	}

	if len(buckets) == 0 {
		return nil, nil
	}
	perBucket := maxKeypoints / len(buckets)
	if perBucket < 1 {
		perBucket = 1
	}

	var keepKP []Keypoint
	var keepDesc [][]float64
	for _, bucket := range buckets {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].sigma < bucket[j].sigma })
		n := perBucket
		if n > len(bucket) {
			n = len(bucket)
		}
		for _, it := range bucket[:n] {
			keepKP = append(keepKP, keypoints[it.index])
			keepDesc = append(keepDesc, descriptors[it.index])
		}
	}
	return keepKP, keepDesc
}
