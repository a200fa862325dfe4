/*
 *
 * Copyright 2023 CubeFS authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# ObjMeta: sharded object metadata and region storage

## Data Model

* Object, a named and dimensioned dataset identified by obj_id. Its metadata record holds
user id, app name, object name, time step, dims, tags and a data location hint.

* Bucket, all metadata records whose object name hashes to the same 32-bit key. A bucket grows a
bloom filter once it holds enough records, so duplicate checks skip the scan for absent keys.

* Region, an axis-aligned box of at most 4 dimensions, start[] + count[].

* Region lock, a held region of an object. Held regions of one object never overlap.

* Storage location, <region, file, offset> of a region written to a shard-local data file.
Data files are append-only.

## Architecture

A cluster is a fixed set of shards identified by rank. Object ids are minted in blocks of
1000000 per shard, so the owner shard of an object is (obj_id/1000000 - 1) % shard_num.

Every shard serves:

* Catalog, the in-memory bucket table

* Lock manager, per object lock lists and region mappings

* Location index, per object storage locations

* Resolver, serves location/metadata requests locally or forwards them to the owner shard
over gRPC and blocks until the reply arrives

* Region IO, overlap aware partial reads and append writes between shared memory buffers
and data files

* Checkpoint, the whole catalog with its locations dumped to one file per shard

## Building Blocks

* gRPC
* Bloom filter
* Prometheus

*/

package objmeta
