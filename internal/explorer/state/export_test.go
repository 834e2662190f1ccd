package state

// BucketInterval exposes the swimlane bucket interval computation for tests.
var BucketInterval = bucketInterval
